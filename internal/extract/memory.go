package extract

import (
	"fmt"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// MemoryProbe reports the resident set size of the current process.
type MemoryProbe interface {
	RSS() (uint64, error)
}

type processProbe struct {
	once sync.Once
	proc *process.Process
	err  error
}

// NewProcessProbe returns a probe backed by gopsutil.
func NewProcessProbe() MemoryProbe {
	return &processProbe{}
}

func (p *processProbe) RSS() (uint64, error) {
	p.once.Do(func() {
		p.proc, p.err = process.NewProcess(int32(os.Getpid()))
	})
	if p.err != nil {
		return 0, fmt.Errorf("failed to open process handle: %w", p.err)
	}
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory info: %w", err)
	}
	return info.RSS, nil
}

const mb = 1024 * 1024
