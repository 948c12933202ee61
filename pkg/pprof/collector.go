package pprof

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
	"time"
)

// Collector records the CPU profile between Start and Stop and snapshots
// the other requested profiles at Stop.
type Collector struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	running bool
	stamp   string
	cpuFile *os.File
}

// NewCollector creates a Collector.
func NewCollector(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pprof config: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "assetgraph"
	}
	if cfg.BlockRate <= 0 {
		cfg.BlockRate = 10000
	}
	if cfg.MutexFraction <= 0 {
		cfg.MutexFraction = 10
	}
	return &Collector{cfg: cfg, now: time.Now}, nil
}

// Dir returns the output directory.
func (c *Collector) Dir() string {
	return c.cfg.Dir
}

// Start begins collection.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("pprof collector already running")
	}
	if err := os.MkdirAll(c.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create pprof directory: %w", err)
	}
	c.stamp = c.now().Format("20060102_150405")

	if c.cfg.HasProfile(ProfileCPU) {
		f, err := os.Create(c.path(ProfileCPU))
		if err != nil {
			return fmt.Errorf("failed to create cpu profile: %w", err)
		}
		if err := rpprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start cpu profile: %w", err)
		}
		c.cpuFile = f
	}
	if c.cfg.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(c.cfg.BlockRate)
	}
	if c.cfg.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(c.cfg.MutexFraction)
	}
	c.running = true
	return nil
}

// Stop ends collection and returns the written files. Stopping a collector
// that is not running is a no-op.
func (c *Collector) Stop() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, nil
	}
	c.running = false

	var files []string
	var firstErr error
	if c.cpuFile != nil {
		rpprof.StopCPUProfile()
		if err := c.cpuFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close cpu profile: %w", err)
		}
		files = append(files, c.cpuFile.Name())
		c.cpuFile = nil
	}

	for _, pt := range c.cfg.Profiles {
		if pt == ProfileCPU {
			continue
		}
		path, err := c.snapshot(pt)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		files = append(files, path)
	}

	if c.cfg.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(0)
	}
	if c.cfg.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(0)
	}
	return files, firstErr
}

func (c *Collector) snapshot(pt ProfileType) (string, error) {
	p := rpprof.Lookup(string(pt))
	if p == nil {
		return "", fmt.Errorf("unknown profile: %s", pt)
	}
	if pt == ProfileHeap || pt == ProfileAllocs {
		runtime.GC()
	}

	path := c.path(pt)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s profile: %w", pt, err)
	}
	defer f.Close()
	if err := p.WriteTo(f, 0); err != nil {
		return "", fmt.Errorf("failed to write %s profile: %w", pt, err)
	}
	return path, nil
}

func (c *Collector) path(pt ProfileType) string {
	return filepath.Join(c.cfg.Dir, fmt.Sprintf("%s-%s-%s.pprof", c.cfg.Prefix, c.stamp, pt))
}
