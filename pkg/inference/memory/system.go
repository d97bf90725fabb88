// Package memory sizes the model memory budget against the host.
package memory

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/elastic/go-sysinfo"
)

// hostShare is the largest fraction of host RAM a derived budget may use.
const hostShare = 2

// errUnknownRAM is returned when host RAM could not be read.
var errUnknownRAM = errors.New("system RAM unknown")

// SystemMemoryInfo describes host memory.
type SystemMemoryInfo interface {
	// HaveSufficientMemory reports whether size bytes fit in host RAM.
	HaveSufficientMemory(size uint64) (bool, error)
	// GetTotalMemory returns host RAM in bytes, or zero when unknown.
	GetTotalMemory() uint64
	// Usage reads current process and host memory.
	Usage() (*Usage, error)
}

// Usage is a snapshot of process and host memory, in bytes.
type Usage struct {
	Resident  uint64  `json:"rss_bytes"`
	Virtual   uint64  `json:"vms_bytes"`
	Percent   float64 `json:"percent"`
	Available uint64  `json:"available_bytes"`
	Total     uint64  `json:"total_bytes"`
}

type systemMemoryInfo struct {
	log         logging.Logger
	totalMemory uint64
}

// NewSystemMemoryInfo reads host RAM. Failures are logged and leave the
// total unknown.
func NewSystemMemoryInfo(log logging.Logger) SystemMemoryInfo {
	var ramSize uint64
	hostInfo, err := sysinfo.Host()
	if err != nil {
		log.Warnf("Could not read host info: %s", err)
	} else {
		ram, err := hostInfo.Memory()
		if err != nil {
			log.Warnf("Could not read host RAM size: %s", err)
		} else {
			ramSize = ram.Total
			log.Infof("Running on system with %s RAM", units.BytesSize(float64(ramSize)))
		}
	}
	return &systemMemoryInfo{log: log, totalMemory: ramSize}
}

func (s *systemMemoryInfo) HaveSufficientMemory(size uint64) (bool, error) {
	if s.totalMemory == 0 {
		return false, errUnknownRAM
	}
	return size <= s.totalMemory, nil
}

func (s *systemMemoryInfo) GetTotalMemory() uint64 {
	return s.totalMemory
}

func (s *systemMemoryInfo) Usage() (*Usage, error) {
	self, err := sysinfo.Self()
	if err != nil {
		return nil, fmt.Errorf("reading process info: %w", err)
	}
	proc, err := self.Memory()
	if err != nil {
		return nil, fmt.Errorf("reading process memory: %w", err)
	}
	hostInfo, err := sysinfo.Host()
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}
	host, err := hostInfo.Memory()
	if err != nil {
		return nil, fmt.Errorf("reading host memory: %w", err)
	}
	u := &Usage{
		Resident:  proc.Resident,
		Virtual:   proc.Virtual,
		Available: host.Available,
		Total:     host.Total,
	}
	if host.Total > 0 {
		u.Percent = 100 * float64(proc.Resident) / float64(host.Total)
	}
	return u, nil
}

// Budget picks the model memory budget. A non-zero explicit budget is used
// as is. Otherwise fallback applies, capped at half of host RAM when that is
// known.
func Budget(info SystemMemoryInfo, explicit, fallback uint64) uint64 {
	if explicit > 0 {
		return explicit
	}
	if total := info.GetTotalMemory(); total > 0 {
		return min(fallback, total/hostShare)
	}
	return fallback
}
