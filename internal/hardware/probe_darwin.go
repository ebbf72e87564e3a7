//go:build darwin

package hardware

import (
	"os/exec"
	"strings"
)

const isDarwin = true

// probeGPUs detects Apple silicon via the CPU brand sysctl. Anything
// else on macOS is an Intel machine, which is unsupported.
func probeGPUs() ([]GPU, error) {
	out, err := exec.Command("sysctl", "-n", "machdep.cpu.brand_string").Output()
	if err != nil {
		return nil, err
	}
	brand := strings.TrimSpace(string(out))
	if strings.HasPrefix(brand, "Apple") {
		return []GPU{{Vendor: VendorApple, Name: brand}}, nil
	}
	return []GPU{{Vendor: VendorIntel, Name: brand}}, nil
}
