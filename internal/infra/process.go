package infra

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/seealln/seealln/internal/domain"
)

// SelfStats implements domain.ProcessStats for the current process
// using gopsutil.
type SelfStats struct {
	proc *process.Process
}

// NewSelfStats creates a stats provider for this PID.
func NewSelfStats() (domain.ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SelfStats{proc: p}, nil
}

// Stats returns CPU percent and resident memory bytes.
func (s *SelfStats) Stats() (float64, uint64, error) {
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return cpu, 0, err
	}
	return cpu, mem.RSS, nil
}
