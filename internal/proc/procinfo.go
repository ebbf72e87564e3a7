package proc

import (
	"strings"

	gopsproc "github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo is the subset of process metadata used for conflict
// reporting and payload detection.
type ProcessInfo struct {
	PID         int    `json:"pid"`
	Name        string `json:"name"`
	CommandLine string `json:"commandLine"`
}

// GetProcessInfo returns name and command line for pid. Fields that
// cannot be read (permissions, exited process) are left empty rather
// than failing the whole lookup.
func GetProcessInfo(pid int) (*ProcessInfo, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	info := &ProcessInfo{PID: pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if cmdline, err := p.Cmdline(); err == nil {
		info.CommandLine = cmdline
	}
	return info, nil
}

// PidAlive reports whether a process with the given pid exists.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// LooksLikePayload guesses whether the process is a workflow runtime
// instance: a Python interpreter whose command line mentions the runtime
// entry point or project name.
func LooksLikePayload(info *ProcessInfo) bool {
	if info == nil {
		return false
	}
	name := strings.ToLower(info.Name)
	cmdline := strings.ToLower(info.CommandLine)
	if !strings.Contains(name, "python") && !strings.Contains(cmdline, "python") {
		return false
	}
	return strings.Contains(cmdline, "comfy") || strings.Contains(cmdline, "main.py")
}
