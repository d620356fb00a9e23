// Package fakeff stands in for ffmpeg and ffprobe in tests. Command re-executes
// the running test binary; the test binary's TestHelperProcess calls Main,
// which plays the requested tool according to a scenario string.
//
// Scenarios are comma-separated key=value pairs:
//
//	probe=full|noaudio|novideo|garbage|nodur|square
//	encoders=none|nvenc|nvenc-broken|vaapi
//	encode=ok|corrupt|permission|codec|generic|hwfail|hwfail-always|sleep|empty|noout|nomarkers
//
// Every invocation appends the value of -c:v (or the first argument) to the
// file named by calls, when set, so tests can count attempts.
package fakeff

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	envWant     = "MP4FIT_FAKEFF"
	envScenario = "MP4FIT_FAKEFF_SCENARIO"
	envCalls    = "MP4FIT_FAKEFF_CALLS"
)

// DurationSeconds is the duration reported by the "full" probe scenario
const DurationSeconds = 10.0

// Command returns an exec constructor that runs the fake tool
func Command(scenario, calls string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=^TestHelperProcess$", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			envWant+"=1",
			envScenario+"="+scenario,
			envCalls+"="+calls,
		)
		return cmd
	}
}

// Calls reads the attempt log written by the fake tool
func Calls(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Fields(string(data))
}

// Main plays the fake tool and exits. It returns immediately when the
// process was not started by Command.
func Main() {
	if os.Getenv(envWant) != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	name, args := filepath.Base(args[0]), args[1:]
	scenario := parseScenario(os.Getenv(envScenario))
	record(args)

	if strings.Contains(name, "ffprobe") {
		os.Exit(probe(scenario["probe"]))
	}
	for _, a := range args {
		if a == "-encoders" {
			os.Exit(listEncoders(scenario["encoders"]))
		}
	}
	if argValue(args, "-f") == "lavfi" {
		os.Exit(functionalTest(scenario["encoders"], argValue(args, "-c:v")))
	}
	os.Exit(encode(scenario["encode"], args))
}

func parseScenario(s string) map[string]string {
	out := map[string]string{"probe": "full", "encoders": "none", "encode": "ok"}
	for _, kv := range strings.Split(s, ",") {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func record(args []string) {
	path := os.Getenv(envCalls)
	if path == "" {
		return
	}
	entry := argValue(args, "-c:v")
	if entry == "" && len(args) > 0 {
		entry = args[0]
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, entry)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func probe(mode string) int {
	var out string
	switch mode {
	case "full":
		out = `{"streams":[{"codec_type":"video","codec_name":"h264","width":3840,"height":1600},{"codec_type":"audio","codec_name":"aac"}],"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2","duration":"10.000000","size":"2048"}}`
	case "noaudio":
		out = `{"streams":[{"codec_type":"video","codec_name":"vp9","width":1920,"height":1080}],"format":{"format_name":"matroska,webm","duration":"10.0"}}`
	case "nodur":
		out = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1080,"height":1920}],"format":{"format_name":"mpegts","duration":"N/A"}}`
	case "square":
		out = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1000,"height":1000}],"format":{"format_name":"mov,mp4","duration":"10.0"}}`
	case "novideo":
		out = `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"format_name":"mp3","duration":"10.0"}}`
	case "garbage":
		out = "not json"
	case "missing":
		fmt.Fprintln(os.Stderr, "input.mp4: No such file or directory")
		return 1
	}
	fmt.Fprint(os.Stdout, out)
	return 0
}

func listEncoders(mode string) int {
	if mode == "fail" {
		return 1
	}
	lines := []string{
		"Encoders:",
		" V..... = Video",
		" A..... = Audio",
		" ------",
		" V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)",
		" A....D aac                  AAC (Advanced Audio Coding)",
	}
	switch mode {
	case "nvenc", "nvenc-broken":
		lines = append(lines, " V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)")
	case "vaapi":
		lines = append(lines,
			" V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)",
			" V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)")
	}
	fmt.Fprintln(os.Stdout, strings.Join(lines, "\n"))
	return 0
}

func functionalTest(mode, encoder string) int {
	switch {
	case encoder == "h264_nvenc" && mode == "nvenc":
		return 0
	case encoder == "h264_nvenc":
		fmt.Fprintln(os.Stderr, "[h264_nvenc @ 0x55] Cannot load libcuda.so.1")
		return 1
	case encoder == "h264_vaapi" && mode == "vaapi":
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown encoder '%s'\n", encoder)
		return 1
	}
}

func encode(mode string, args []string) int {
	codec := argValue(args, "-c:v")
	output := ""
	if len(args) > 0 {
		output = args[len(args)-1]
	}

	fail := func(msg string) int {
		fmt.Fprintln(os.Stderr, "Input #0, mov,mp4, from 'input':")
		fmt.Fprintln(os.Stderr, msg)
		return 1
	}

	switch mode {
	case "corrupt":
		return fail("input: Invalid data found when processing input")
	case "permission":
		return fail(output + ": Permission denied")
	case "codec":
		return fail("Unknown encoder '" + codec + "'")
	case "generic":
		return fail("Conversion failed!")
	case "hwfail":
		if codec != "libx264" {
			return fail("[h264_nvenc @ 0x55] Cannot load libcuda.so.1\nError while opening encoder")
		}
	case "hwfail-always":
		return fail("[h264_nvenc @ 0x55] Cannot load libcuda.so.1\nError while opening encoder")
	case "sleep":
		fmt.Fprint(os.Stderr, "frame=    1 fps=0.0 q=0.0 size=       0kB time=00:00:00.50 bitrate=N/A speed=N/A\r")
		time.Sleep(30 * time.Second)
		return 0
	}

	if mode != "nomarkers" {
		for i := 1; i <= int(DurationSeconds); i++ {
			fmt.Fprintf(os.Stderr, "frame=%5d fps=25 q=28.0 size=%8dkB time=00:00:%02d.00 bitrate=1000.0kbits/s speed=2x\r", i*25, i*100, i)
		}
		fmt.Fprintln(os.Stderr)
	}

	switch mode {
	case "noout":
		return 0
	case "empty":
		os.WriteFile(output, nil, 0644)
		return 0
	}
	if err := os.WriteFile(output, []byte(strings.Repeat("x", 4096)), 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
