package resources

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/psantana5/mp4fit/pkg/models"
)

// DiskSpaceInfo is the usage of the filesystem holding a path
type DiskSpaceInfo struct {
	Path        string  `json:"path"`
	TotalMB     uint64  `json:"total_mb"`
	AvailableMB uint64  `json:"available_mb"`
	UsedMB      uint64  `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// usageFunc is replaced in tests
var usageFunc = disk.Usage

// CheckDiskSpace checks available disk space for a path
func CheckDiskSpace(path string) (*DiskSpaceInfo, error) {
	usage, err := usageFunc(path)
	if err != nil {
		return nil, fmt.Errorf("failed to check disk space: %w", err)
	}
	const mb = 1024 * 1024
	return &DiskSpaceInfo{
		Path:        path,
		TotalMB:     usage.Total / mb,
		AvailableMB: usage.Free / mb,
		UsedMB:      usage.Used / mb,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// InsufficientDiskError is returned by EnsureSufficientDiskSpace
type InsufficientDiskError struct {
	Path        string
	RequiredMB  uint64
	AvailableMB uint64
}

func (e *InsufficientDiskError) Error() string {
	return fmt.Sprintf("insufficient disk space on %s: need %d MB, available %d MB", e.Path, e.RequiredMB, e.AvailableMB)
}

func (e *InsufficientDiskError) Kind() models.FailureKind { return models.FailureInsufficientDisk }

// EnsureSufficientDiskSpace fails when fewer than requiredMB are free at path
func EnsureSufficientDiskSpace(path string, requiredMB uint64) (*DiskSpaceInfo, error) {
	info, err := CheckDiskSpace(path)
	if err != nil {
		return nil, err
	}
	if info.AvailableMB < requiredMB {
		return info, &InsufficientDiskError{Path: path, RequiredMB: requiredMB, AvailableMB: info.AvailableMB}
	}
	return info, nil
}
