package agent

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// PresetAuto selects the libx264 preset from the host's CPU thread count
const PresetAuto = "auto"

// validPresets are the libx264 speed presets accepted from configuration
var validPresets = map[string]bool{
	"ultrafast": true,
	"superfast": true,
	"veryfast":  true,
	"faster":    true,
	"fast":      true,
	"medium":    true,
	"slow":      true,
	"slower":    true,
	"veryslow":  true,
	PresetAuto:  true,
}

// IsValidPreset reports whether s is a libx264 preset or "auto"
func IsValidPreset(s string) bool {
	return validPresets[s]
}

// PresetForThreads picks a software preset for the given CPU thread count.
// The bitrate is fixed, so the preset only trades encode time against
// compression efficiency.
func PresetForThreads(threads int) (preset, reason string) {
	switch {
	case threads >= 8:
		return "fast", "8+ threads - using 'fast' preset"
	case threads >= 4:
		return "veryfast", "4-7 threads - using 'veryfast' preset for lighter load"
	default:
		return "ultrafast", "fewer than 4 threads - using 'ultrafast' preset to avoid overload"
	}
}

// cpuThreads counts logical CPUs, preferring gopsutil over the Go runtime view
func cpuThreads() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ResolvePreset turns "auto" into a concrete preset; other values pass through
func ResolvePreset(preset string) (string, string) {
	if preset != PresetAuto {
		return preset, "configured"
	}
	return PresetForThreads(cpuThreads())
}
