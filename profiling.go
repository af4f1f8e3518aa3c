package main

import (
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"sync"
)

// cpuProfile captures the initial plan computation for -cpuprofile. Watch and
// preview time is not recorded.
type cpuProfile struct {
	path string
	f    *os.File
	once sync.Once
	err  error
}

func startCPUProfile(path string) (*cpuProfile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("cpu profile: %w", err)
	}
	return &cpuProfile{path: path, f: f}, nil
}

// Stop flushes the profile. A nil profile and repeated calls are no-ops.
func (p *cpuProfile) Stop() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		pprof.StopCPUProfile()
		if p.err = p.f.Close(); p.err == nil {
			log.Printf("CPU profile written to %s", p.path)
		}
	})
	return p.err
}
