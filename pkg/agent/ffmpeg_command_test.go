package agent

import (
	"reflect"
	"strings"
	"testing"

	"github.com/psantana5/mp4fit/pkg/models"
)

func containsArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

// argAfter returns the value following flag, or ""
func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func indexOf(args []string, arg string) int {
	for i, a := range args {
		if a == arg {
			return i
		}
	}
	return -1
}

func testProbe(w, h int, audio bool) *models.MediaProbe {
	return &models.MediaProbe{FormatName: "mov,mp4", VideoCodec: "h264", Width: w, Height: h, DurationSeconds: 10, HasAudio: audio}
}

func TestBuildPlan_Software(t *testing.T) {
	probe := testProbe(3840, 1600, true)
	geom := PlanGeometry(probe.Width, probe.Height, 1920, 1080)
	plan, err := BuildPlan("/work/in.mkv", "/work/out.mp4", probe, geom, SoftwareProfile(DefaultEncodeOptions()))
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	args := plan.Args

	if argAfter(args, "-i") != "/work/in.mkv" {
		t.Error("Expected -i with the input path")
	}
	if args[len(args)-1] != "/work/out.mp4" {
		t.Errorf("Expected output as last argument, got %q", args[len(args)-1])
	}
	if argAfter(args, "-c:v") != "libx264" || argAfter(args, "-b:v") != "5000k" || argAfter(args, "-preset") != "fast" {
		t.Errorf("Expected libx264 5000k fast, got %v", args)
	}
	if argAfter(args, "-vf") != "scale=1920:800,pad=1920:1080:0:140:color=black" {
		t.Errorf("unexpected filter %q", argAfter(args, "-vf"))
	}
	if argAfter(args, "-c:a") != "aac" || argAfter(args, "-b:a") != "192k" || argAfter(args, "-ac") != "2" {
		t.Error("Expected stereo AAC 192k audio")
	}
	if argAfter(args, "-movflags") != "+faststart" {
		t.Error("Expected faststart flag")
	}
	if argAfter(args, "-pix_fmt") != "yuv420p" {
		t.Error("Expected yuv420p pixel format")
	}
	if !containsArg(args, "0:v:0") || !containsArg(args, "0:a:0") {
		t.Error("Expected explicit video and audio maps")
	}
	if !containsArg(args, "-nostdin") || !containsArg(args, "-stats") {
		t.Error("Expected -nostdin and -stats")
	}
}

func TestBuildPlan_NoAudioDegradesToVideoOnly(t *testing.T) {
	probe := testProbe(1920, 1080, false)
	geom := PlanGeometry(probe.Width, probe.Height, 1920, 1080)
	plan, err := BuildPlan("in", "out.mp4", probe, geom, SoftwareProfile(DefaultEncodeOptions()))
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if containsArg(plan.Args, "0:a:0") || containsArg(plan.Args, "-c:a") {
		t.Errorf("audio must not be mapped: %v", plan.Args)
	}
	if !containsArg(plan.Args, "-an") {
		t.Error("Expected -an for video-only output")
	}
	if plan.HasAudio {
		t.Error("HasAudio should be false")
	}
}

func TestBuildPlan_NoopGeometryOmitsFilter(t *testing.T) {
	probe := testProbe(1920, 1080, true)
	plan, err := BuildPlan("in", "out.mp4", probe, PlanGeometry(1920, 1080, 1920, 1080), SoftwareProfile(DefaultEncodeOptions()))
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if containsArg(plan.Args, "-vf") || plan.Filter != "" {
		t.Errorf("no-op geometry must not emit a filter: %v", plan.Args)
	}
}

func TestBuildPlan_HardwareProfiles(t *testing.T) {
	probe := testProbe(3840, 1600, true)
	geom := PlanGeometry(probe.Width, probe.Height, 1920, 1080)
	opts := DefaultEncodeOptions()

	tests := []struct {
		name       string
		capability EncoderCapability
		wantFlags  map[string]string
		wantPixFmt bool
		wantFilter string
	}{
		{
			name:       "NVENC",
			capability: EncoderCapability{Type: EncoderNVENC, Encoder: "h264_nvenc", FunctionallyVerified: true},
			wantFlags:  map[string]string{"-rc": "vbr", "-cq": "23", "-maxrate": "8M", "-bufsize": "16M", "-preset": "p4"},
			wantPixFmt: true,
			wantFilter: "scale=1920:800,pad=1920:1080:0:140:color=black",
		},
		{
			name:       "QSV",
			capability: EncoderCapability{Type: EncoderQSV, Encoder: "h264_qsv", FunctionallyVerified: true},
			wantFlags:  map[string]string{"-global_quality": "23", "-maxrate": "8M"},
			wantPixFmt: true,
			wantFilter: "scale=1920:800,pad=1920:1080:0:140:color=black",
		},
		{
			name:       "VAAPI",
			capability: EncoderCapability{Type: EncoderVAAPI, Encoder: "h264_vaapi", FunctionallyVerified: true},
			wantFlags:  map[string]string{"-rc_mode": "QVBR", "-global_quality": "23", "-vaapi_device": "/dev/dri/renderD128"},
			wantPixFmt: false,
			wantFilter: "scale=1920:800,pad=1920:1080:0:140:color=black,format=nv12,hwupload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := ProfileFor(tt.capability, opts)
			if !profile.IsHardware {
				t.Fatal("expected hardware profile")
			}
			plan, err := BuildPlan("in", "out.mp4", probe, geom, profile)
			if err != nil {
				t.Fatalf("BuildPlan failed: %v", err)
			}
			for flag, want := range tt.wantFlags {
				if got := argAfter(plan.Args, flag); got != want {
					t.Errorf("%s = %q, want %q", flag, got, want)
				}
			}
			if got := containsArg(plan.Args, "-pix_fmt"); got != tt.wantPixFmt {
				t.Errorf("-pix_fmt present = %v, want %v", got, tt.wantPixFmt)
			}
			if got := argAfter(plan.Args, "-vf"); got != tt.wantFilter {
				t.Errorf("-vf = %q, want %q", got, tt.wantFilter)
			}
			if argAfter(plan.Args, "-movflags") != "+faststart" {
				t.Error("hardware plans must keep faststart")
			}
		})
	}
}

func TestBuildPlan_VAAPIDeviceBeforeInput(t *testing.T) {
	profile := ProfileFor(EncoderCapability{Type: EncoderVAAPI, Encoder: "h264_vaapi", FunctionallyVerified: true}, DefaultEncodeOptions())
	plan, err := BuildPlan("in", "out.mp4", testProbe(1920, 1080, false), PlanGeometry(1920, 1080, 1920, 1080), profile)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if indexOf(plan.Args, "-vaapi_device") > indexOf(plan.Args, "-i") {
		t.Errorf("-vaapi_device must precede -i: %v", plan.Args)
	}
	if argAfter(plan.Args, "-vf") != "format=nv12,hwupload" {
		t.Errorf("VAAPI keeps the upload chain on no-op geometry, got %q", argAfter(plan.Args, "-vf"))
	}
}

func TestBuildPlan_Validation(t *testing.T) {
	geom := PlanGeometry(1920, 1080, 1920, 1080)
	profile := SoftwareProfile(DefaultEncodeOptions())

	if _, err := BuildPlan("in", "out.mp4", nil, geom, profile); err == nil {
		t.Error("expected error for missing probe")
	}
	if _, err := BuildPlan("in", "", testProbe(1920, 1080, true), geom, profile); err == nil {
		t.Error("expected error for missing output")
	}
	if _, err := BuildPlan("in", "out.mp4", testProbe(1920, 1080, true), Geometry{}, profile); err == nil {
		t.Error("expected error for empty target")
	}
}

func TestBuildPlan_Deterministic(t *testing.T) {
	probe := testProbe(1280, 720, true)
	geom := PlanGeometry(1280, 720, 1920, 1080)
	a, _ := BuildPlan("in", "out.mp4", probe, geom, SoftwareProfile(DefaultEncodeOptions()))
	b, _ := BuildPlan("in", "out.mp4", probe, geom, SoftwareProfile(DefaultEncodeOptions()))
	if !reflect.DeepEqual(a.Args, b.Args) {
		t.Errorf("plans differ:\n%v\n%v", a.Args, b.Args)
	}
	if !strings.HasPrefix(a.CommandLine("ffmpeg"), "ffmpeg -hide_banner") {
		t.Errorf("CommandLine() = %q", a.CommandLine("ffmpeg"))
	}
}

func TestProfileDowngrade(t *testing.T) {
	hw := ProfileFor(EncoderCapability{Type: EncoderNVENC, Encoder: "h264_nvenc", FunctionallyVerified: true}, DefaultEncodeOptions())
	sw, err := hw.Downgrade()
	if err != nil {
		t.Fatalf("Downgrade failed: %v", err)
	}
	if sw.IsHardware || sw.Codec != SoftwareEncoder || sw.Type != EncoderSoftware {
		t.Errorf("unexpected downgraded profile %+v", sw)
	}
	if _, err := sw.Downgrade(); err != ErrAlreadySoftware {
		t.Errorf("second Downgrade error = %v, want ErrAlreadySoftware", err)
	}
	if !hw.IsHardware {
		t.Error("Downgrade must not mutate the original profile")
	}
}

func TestProfileForUnverifiedCapability(t *testing.T) {
	p := ProfileFor(EncoderCapability{Type: EncoderNVENC, Encoder: "h264_nvenc"}, DefaultEncodeOptions())
	if p.IsHardware {
		t.Error("unverified capability must select software")
	}
}

func TestParsePreference(t *testing.T) {
	for _, in := range []string{"", "auto", "NVENC", " qsv ", "vaapi", "none"} {
		if _, err := ParsePreference(in); err != nil {
			t.Errorf("ParsePreference(%q) error = %v", in, err)
		}
	}
	if _, err := ParsePreference("cuda"); err == nil {
		t.Error("expected error for unknown preference")
	}
}

func TestPresetForThreads(t *testing.T) {
	tests := []struct {
		threads int
		want    string
	}{
		{32, "fast"},
		{8, "fast"},
		{6, "veryfast"},
		{4, "veryfast"},
		{2, "ultrafast"},
	}
	for _, tt := range tests {
		if got, _ := PresetForThreads(tt.threads); got != tt.want {
			t.Errorf("PresetForThreads(%d) = %s, want %s", tt.threads, got, tt.want)
		}
	}
	if p, _ := ResolvePreset("slow"); p != "slow" {
		t.Errorf("explicit preset should pass through, got %s", p)
	}
	if p, _ := ResolvePreset(PresetAuto); !IsValidPreset(p) || p == PresetAuto {
		t.Errorf("auto should resolve to a concrete preset, got %s", p)
	}
}
