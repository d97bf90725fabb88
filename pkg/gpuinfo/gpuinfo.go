// Package gpuinfo reports the accelerators visible to the host.
package gpuinfo

import (
	"strings"

	"github.com/docker/protein-runner/pkg/logging"
	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/gpu"
)

// Accelerator describes one graphics card.
type Accelerator struct {
	Index   int    `json:"index"`
	Address string `json:"address,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
}

// Detect lists the host's graphics cards. Detection failures are logged
// and reported as no accelerators; models run on the CPU either way.
func Detect(log logging.Logger) []Accelerator {
	info, err := ghw.GPU()
	if err != nil {
		log.Warnf("Could not read GPU info: %s", err)
		return []Accelerator{}
	}
	accelerators := fromCards(info.GraphicsCards)
	for _, a := range accelerators {
		log.Infof("Found accelerator %d: %s %s", a.Index, a.Vendor, a.Product)
	}
	return accelerators
}

func fromCards(cards []*gpu.GraphicsCard) []Accelerator {
	out := make([]Accelerator, 0, len(cards))
	for _, card := range cards {
		if card == nil {
			continue
		}
		a := Accelerator{Index: card.Index, Address: card.Address}
		if dev := card.DeviceInfo; dev != nil {
			if dev.Vendor != nil {
				a.Vendor = strings.TrimSpace(dev.Vendor.Name)
			}
			if dev.Product != nil {
				a.Product = strings.TrimSpace(dev.Product.Name)
			}
		}
		out = append(out, a)
	}
	return out
}

// HasVendor reports whether any accelerator is made by vendor, compared
// case-insensitively by prefix ("nvidia" matches "NVIDIA Corporation").
func HasVendor(accelerators []Accelerator, vendor string) bool {
	vendor = strings.ToLower(vendor)
	for _, a := range accelerators {
		if strings.HasPrefix(strings.ToLower(a.Vendor), vendor) {
			return true
		}
	}
	return false
}
