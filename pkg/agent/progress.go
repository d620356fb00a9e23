package agent

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/psantana5/mp4fit/pkg/models"
)

// ProgressFunc receives throttled progress observations
type ProgressFunc func(models.Progress)

// nearComplete is delivered regardless of throttling, once
const nearComplete = 99.0

// timeMarker matches ffmpeg's stats field, e.g. "time=00:01:02.35"
var timeMarker = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// parseElapsed extracts the elapsed media time in seconds from a stats line
func parseElapsed(line string) (float64, bool) {
	m := timeMarker.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, err1 := strconv.Atoi(m[1])
	mins, err2 := strconv.Atoi(m[2])
	secs, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(mins)*60 + secs, true
}

// progressTracker turns elapsed-time markers into throttled observations.
// Percentages never decrease.
type progressTracker struct {
	duration  float64
	start     time.Time
	now       func() time.Time
	throttle  *rate.Sometimes
	emit      ProgressFunc
	percent   float64
	elapsed   float64
	nearSent  bool
	finalSent bool
}

func newProgressTracker(duration float64, interval time.Duration, emit ProgressFunc) *progressTracker {
	throttle := &rate.Sometimes{Interval: interval}
	if interval <= 0 {
		throttle = &rate.Sometimes{Every: 1}
	}
	return &progressTracker{
		duration: duration,
		start:    time.Now(),
		now:      time.Now,
		throttle: throttle,
		emit:     emit,
	}
}

func (t *progressTracker) observe(elapsed float64) {
	if t.emit == nil {
		return
	}
	if elapsed > t.elapsed {
		t.elapsed = elapsed
	}

	if t.duration <= 0 {
		// Unknown duration: liveness only
		t.throttle.Do(func() {
			t.emit(models.Progress{Elapsed: t.elapsed})
		})
		return
	}

	pct := math.Min(100, t.elapsed/t.duration*100)
	if pct > t.percent {
		t.percent = pct
	}

	if t.percent >= nearComplete && !t.nearSent {
		t.deliver()
		return
	}
	t.throttle.Do(t.deliver)
}

// complete delivers a final 100% after a successful exit
func (t *progressTracker) complete() {
	if t.emit == nil || t.duration <= 0 || t.finalSent {
		return
	}
	t.percent = 100
	t.elapsed = math.Max(t.elapsed, t.duration)
	t.deliver()
}

func (t *progressTracker) deliver() {
	pct := t.percent
	p := models.Progress{Percent: &pct, Elapsed: t.elapsed}
	if remaining, ok := t.remaining(); ok {
		p.Remaining = &remaining
	}
	if pct >= nearComplete {
		t.nearSent = true
	}
	if pct >= 100 {
		t.finalSent = true
	}
	t.emit(p)
}

// remaining estimates seconds left from the wall-clock encode rate so far
func (t *progressTracker) remaining() (float64, bool) {
	if t.percent >= 100 {
		return 0, true
	}
	wall := t.now().Sub(t.start).Seconds()
	if wall <= 0 || t.elapsed <= 0 {
		return 0, false
	}
	speed := t.elapsed / wall
	return math.Max(0, (t.duration-t.elapsed)/speed), true
}

// progressRelay decouples the stderr reader from a slow progress consumer.
// Only the newest undelivered update is held; older ones are replaced.
type progressRelay struct {
	updates chan models.Progress
	done    chan struct{}
}

func newProgressRelay(fn ProgressFunc) *progressRelay {
	r := &progressRelay{
		updates: make(chan models.Progress, 1),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for p := range r.updates {
			fn(p)
		}
	}()
	return r
}

// send never blocks. It has a single caller at a time.
func (r *progressRelay) send(p models.Progress) {
	for {
		select {
		case r.updates <- p:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}

// close returns once the pending update has been delivered
func (r *progressRelay) close() {
	close(r.updates)
	<-r.done
}

// splitStatsLines is a bufio.SplitFunc that breaks on \r as well as \n,
// since ffmpeg rewrites its stats line in place with carriage returns.
func splitStatsLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps roughly the last max bytes of diagnostic output
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max, buf: make([]byte, 0, max)}
}

func (t *tailBuffer) WriteLine(line []byte) {
	if len(line) == 0 {
		return
	}
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > 2*t.max {
		t.buf = append(t.buf[:0:0], t.buf[len(t.buf)-t.max:]...)
	}
}

func (t *tailBuffer) String() string {
	if len(t.buf) > t.max {
		return string(t.buf[len(t.buf)-t.max:])
	}
	return string(t.buf)
}
