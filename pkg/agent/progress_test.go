package agent

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/mp4fit/pkg/models"
)

func TestParseElapsed(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=  250 fps= 50 q=28.0 size=    1024kB time=00:00:10.00 bitrate= 838.9kbits/s", 10, true},
		{"size=  2048kB time=01:02:03.50 bitrate=N/A", 3723.5, true},
		{"time=00:00:07 speed=1x", 7, true},
		{"time=N/A bitrate=N/A", 0, false},
		{"Stream mapping:", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseElapsed(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseElapsed(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitStatsLines(t *testing.T) {
	input := "Input #0\nframe=1 time=00:00:01.00\rframe=2 time=00:00:02.00\rdone"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(splitStatsLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	want := []string{"Input #0", "frame=1 time=00:00:01.00", "frame=2 time=00:00:02.00", "done"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestProgressTrackerMonotonicAndFinal(t *testing.T) {
	var got []models.Progress
	tr := newProgressTracker(10, 0, func(p models.Progress) { got = append(got, p) })

	for _, e := range []float64{1, 3, 2, 5, 9.95, 10, 12} {
		tr.observe(e)
	}
	tr.complete()

	if len(got) == 0 {
		t.Fatal("no progress delivered")
	}
	last := -1.0
	for i, p := range got {
		if p.Percent == nil {
			t.Fatalf("observation %d has nil percent with known duration", i)
		}
		if *p.Percent < last {
			t.Fatalf("percent decreased at %d: %v -> %v", i, last, *p.Percent)
		}
		if *p.Percent > 100 {
			t.Fatalf("percent above 100: %v", *p.Percent)
		}
		last = *p.Percent
	}
	if last != 100 {
		t.Errorf("final percent = %v, want 100", last)
	}
}

func TestProgressTrackerThrottles(t *testing.T) {
	var got []models.Progress
	tr := newProgressTracker(100, time.Hour, func(p models.Progress) { got = append(got, p) })

	for e := 1.0; e <= 50; e++ {
		tr.observe(e)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the first observation within the interval, got %d", len(got))
	}

	// Near-complete bypasses the throttle exactly once
	tr.observe(99.5)
	tr.observe(99.7)
	if len(got) != 2 || *got[1].Percent < 99 {
		t.Fatalf("expected a single >=99%% delivery, got %d observations", len(got))
	}

	tr.complete()
	if len(got) != 3 || *got[2].Percent != 100 {
		t.Fatalf("expected final 100%%, got %d observations", len(got))
	}
	tr.complete()
	if len(got) != 3 {
		t.Error("complete must deliver 100% only once")
	}
}

func TestProgressTrackerUnknownDuration(t *testing.T) {
	var got []models.Progress
	tr := newProgressTracker(0, 0, func(p models.Progress) { got = append(got, p) })

	tr.observe(1)
	tr.observe(2)
	tr.complete()

	if len(got) != 2 {
		t.Fatalf("expected 2 liveness ticks, got %d", len(got))
	}
	for _, p := range got {
		if p.Percent != nil || p.Remaining != nil {
			t.Errorf("liveness tick must not carry a percentage: %+v", p)
		}
	}
	if got[1].Elapsed != 2 {
		t.Errorf("Elapsed = %v, want 2", got[1].Elapsed)
	}
}

func TestProgressTrackerRemaining(t *testing.T) {
	var got models.Progress
	tr := newProgressTracker(100, 0, func(p models.Progress) { got = p })
	start := time.Now()
	tr.start = start
	tr.now = func() time.Time { return start.Add(10 * time.Second) }

	// 20s of media in 10s of wall time: 2x speed, 80s left -> 40s
	tr.observe(20)
	if got.Remaining == nil || *got.Remaining != 40 {
		t.Errorf("Remaining = %v, want 40", got.Remaining)
	}
}

func TestProgressRelayDoesNotBlockOnSlowConsumer(t *testing.T) {
	release := make(chan struct{})
	var got []float64
	relay := newProgressRelay(func(p models.Progress) {
		<-release
		got = append(got, p.Elapsed)
	})

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 1; i <= 100; i++ {
			relay.send(models.Progress{Elapsed: float64(i)})
		}
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("send blocked behind a stalled consumer")
	}

	close(release)
	relay.close()
	if len(got) == 0 || got[len(got)-1] != 100 {
		t.Fatalf("newest update lost: %v", got)
	}
	if len(got) > 3 {
		t.Errorf("expected coalesced updates, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Errorf("updates out of order: %v", got)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(16)
	for i := 0; i < 100; i++ {
		tb.WriteLine([]byte("line"))
	}
	tb.WriteLine([]byte("final"))
	s := tb.String()
	if len(s) > 16 {
		t.Errorf("tail exceeds bound: %d bytes", len(s))
	}
	if !strings.HasSuffix(s, "final\n") {
		t.Errorf("tail lost the last line: %q", s)
	}
}
