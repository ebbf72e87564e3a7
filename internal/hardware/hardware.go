// Package hardware detects the discrete GPU vendor and driver version
// and decides whether the machine can run the payload at all.
package hardware

import (
	"strconv"
	"strings"
)

// Vendor is a detected GPU vendor.
type Vendor string

const (
	VendorNVIDIA Vendor = "nvidia"
	VendorAMD    Vendor = "amd"
	VendorIntel  Vendor = "intel"
	VendorApple  Vendor = "apple"
	VendorNone   Vendor = "none"
)

// PCI vendor ids as they appear in device identifiers.
const (
	pciVendorNVIDIA = "10DE"
	pciVendorAMD    = "1002"
	pciVendorIntel  = "8086"
)

// GPU is one detected adapter.
type GPU struct {
	Vendor        Vendor `json:"vendor"`
	Name          string `json:"name,omitempty"`
	DriverVersion string `json:"driverVersion,omitempty"`
}

// Info is the probe result.
type Info struct {
	GPUs []GPU `json:"gpus"`
}

// Probe detects GPUs with the platform-specific strategy.
func Probe() (*Info, error) {
	gpus, err := probeGPUs()
	if err != nil {
		return nil, err
	}
	return &Info{GPUs: gpus}, nil
}

// vendorPriority orders multi-GPU systems: NVIDIA > AMD > Intel.
var vendorPriority = map[Vendor]int{
	VendorNVIDIA: 4,
	VendorAMD:    3,
	VendorApple:  2,
	VendorIntel:  1,
}

// Primary returns the highest-priority GPU, or nil when none detected.
func (i *Info) Primary() *GPU {
	var best *GPU
	for idx := range i.GPUs {
		g := &i.GPUs[idx]
		if best == nil || vendorPriority[g.Vendor] > vendorPriority[best.Vendor] {
			best = g
		}
	}
	return best
}

// CompareVersions compares dotted version strings numerically, segment
// by segment. Missing segments count as zero; non-numeric segments
// compare as zero. Returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// MeetsMinimumDriver reports whether version satisfies min. An empty
// detected version is treated as not meeting any minimum.
func MeetsMinimumDriver(version, min string) bool {
	if min == "" {
		return true
	}
	if version == "" {
		return false
	}
	return CompareVersions(version, min) >= 0
}

// Supported decides whether the payload can run here. Intel-only Macs
// are unsupported; everything else is allowed, possibly CPU-only.
func Supported(info *Info) (bool, string) {
	if info == nil {
		return true, ""
	}
	primary := info.Primary()
	if primary == nil {
		return true, ""
	}
	if isDarwin && primary.Vendor == VendorIntel {
		return false, "Intel-based Macs are not supported"
	}
	return true, ""
}

func vendorFromPCIID(id string) Vendor {
	id = strings.ToUpper(id)
	switch {
	case strings.Contains(id, pciVendorNVIDIA):
		return VendorNVIDIA
	case strings.Contains(id, pciVendorAMD):
		return VendorAMD
	case strings.Contains(id, pciVendorIntel):
		return VendorIntel
	default:
		return VendorNone
	}
}

func vendorFromName(name string) Vendor {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "nvidia") || strings.Contains(n, "geforce") || strings.Contains(n, "quadro"):
		return VendorNVIDIA
	case strings.Contains(n, "amd") || strings.Contains(n, "radeon") || strings.Contains(n, "ati "):
		return VendorAMD
	case strings.Contains(n, "intel"):
		return VendorIntel
	case strings.Contains(n, "apple"):
		return VendorApple
	default:
		return VendorNone
	}
}
