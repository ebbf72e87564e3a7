//go:build windows

package hardware

import (
	"os/exec"
	"strings"
)

const isDarwin = false

// probeGPUs queries video controllers via PowerShell CIM, classifying
// by PCI vendor id, and falls back to nvidia-smi when the query fails.
func probeGPUs() ([]GPU, error) {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		"Get-CimInstance Win32_VideoController | ForEach-Object { $_.PNPDeviceID + '|' + $_.Name + '|' + $_.DriverVersion }").Output()
	if err == nil {
		var gpus []GPU
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
			if len(parts) < 3 {
				continue
			}
			vendor := vendorFromPCIID(parts[0])
			if vendor == VendorNone {
				vendor = vendorFromName(parts[1])
			}
			if vendor == VendorNone {
				continue
			}
			gpus = append(gpus, GPU{Vendor: vendor, Name: parts[1], DriverVersion: parts[2]})
		}
		if len(gpus) > 0 {
			return gpus, nil
		}
	}

	smi, err := exec.Command("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return nil, nil
	}
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(string(smi)), "\n") {
		name, driver, _ := strings.Cut(line, ",")
		if strings.TrimSpace(name) == "" {
			continue
		}
		gpus = append(gpus, GPU{
			Vendor:        VendorNVIDIA,
			Name:          strings.TrimSpace(name),
			DriverVersion: strings.TrimSpace(driver),
		})
	}
	return gpus, nil
}
