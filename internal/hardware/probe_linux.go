//go:build linux

package hardware

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const isDarwin = false

// probeGPUs tries nvidia-smi first (it also yields the driver version),
// then lspci, then sysfs vendor files.
func probeGPUs() ([]GPU, error) {
	if gpus := probeNvidiaSMI(); len(gpus) > 0 {
		return gpus, nil
	}
	if gpus := probeLspci(); len(gpus) > 0 {
		return gpus, nil
	}
	return probeSysfs(), nil
}

func probeNvidiaSMI() []GPU {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		name, driver, _ := strings.Cut(line, ",")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		gpus = append(gpus, GPU{
			Vendor:        VendorNVIDIA,
			Name:          name,
			DriverVersion: strings.TrimSpace(driver),
		})
	}
	return gpus
}

func probeLspci() []GPU {
	out, err := exec.Command("lspci").Output()
	if err != nil {
		return nil
	}
	var gpus []GPU
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "VGA compatible controller") && !strings.Contains(line, "3D controller") {
			continue
		}
		vendor := vendorFromName(line)
		if vendor == VendorNone {
			continue
		}
		gpus = append(gpus, GPU{Vendor: vendor, Name: strings.TrimSpace(line)})
	}
	return gpus
}

func probeSysfs() []GPU {
	cards, err := filepath.Glob("/sys/class/drm/card[0-9]*/device/vendor")
	if err != nil {
		return nil
	}
	var gpus []GPU
	for _, vendorFile := range cards {
		data, err := os.ReadFile(vendorFile)
		if err != nil {
			continue
		}
		// Content looks like "0x10de".
		id := strings.TrimPrefix(strings.TrimSpace(string(data)), "0x")
		vendor := vendorFromPCIID(id)
		if vendor == VendorNone {
			continue
		}
		gpus = append(gpus, GPU{Vendor: vendor})
	}
	if len(gpus) == 0 {
		slog.Debug("no GPU detected via sysfs")
	}
	return gpus
}
