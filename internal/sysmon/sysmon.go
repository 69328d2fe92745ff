// Package sysmon reports host resources relevant to a long running capture:
// free space in the log directory and the capture process itself.
package sysmon

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"
)

// DiskInfo describes the filesystem holding the log directory
type DiskInfo struct {
	Path        string
	TotalMB     uint64
	FreeMB      uint64
	UsedPercent float64
}

// ProcessInfo represents the capture process with metrics
type ProcessInfo struct {
	PID        int32
	MemoryMB   float64 // RSS in MB
	CPUPercent float64
	CreateTime time.Time
	NumFDs     int32
}

// GetDiskInfo returns usage of the filesystem containing dir
func GetDiskInfo(dir string) (*DiskInfo, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage for %s: %w", dir, err)
	}
	return &DiskInfo{
		Path:        dir,
		TotalMB:     usage.Total / 1024 / 1024,
		FreeMB:      usage.Free / 1024 / 1024,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// CheckFreeSpace returns an error when fewer than minMB megabytes are free
// below dir. A zero minMB disables the check.
func CheckFreeSpace(dir string, minMB uint64) (*DiskInfo, error) {
	info, err := GetDiskInfo(dir)
	if err != nil {
		return nil, err
	}
	if minMB > 0 && info.FreeMB < minMB {
		return info, fmt.Errorf("only %d MB free in %s, want at least %d MB", info.FreeMB, dir, minMB)
	}
	return info, nil
}

// GetSelfInfo returns metrics of the running process. Fields that cannot
// be read are left zero.
func GetSelfInfo() (*ProcessInfo, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("process not found: %w", err)
	}

	info := &ProcessInfo{PID: p.Pid}

	if memInfo, err := p.MemoryInfo(); err == nil {
		info.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}

	if cpuPercent, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpuPercent
	}

	if createTime, err := p.CreateTime(); err == nil {
		info.CreateTime = time.Unix(0, createTime*int64(time.Millisecond))
	}

	// Open session files and the tty show up here
	if fds, err := p.NumFDs(); err == nil {
		info.NumFDs = fds
	}

	return info, nil
}
