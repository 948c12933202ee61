// Package pprof captures runtime profiles of a single command run, e.g. a
// build over a large project.
//
//	c, err := pprof.NewCollector(pprof.Config{Dir: "./pprof", Profiles: pprof.DefaultProfileTypes()})
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(); err != nil {
//	    return err
//	}
//	defer c.Stop()
package pprof

import (
	"fmt"
	"strings"
)

// ProfileType defines the type of profile to collect.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

// AllProfileTypes returns all supported profile types.
func AllProfileTypes() []ProfileType {
	return []ProfileType{
		ProfileCPU,
		ProfileHeap,
		ProfileGoroutine,
		ProfileBlock,
		ProfileMutex,
		ProfileAllocs,
	}
}

// DefaultProfileTypes returns the profile types collected when none are named.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap}
}

// ParseProfileTypes parses a comma-separated string into profile types.
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}

	valid := make(map[ProfileType]bool)
	for _, pt := range AllProfileTypes() {
		valid[pt] = true
	}

	parts := strings.Split(s, ",")
	types := make([]ProfileType, 0, len(parts))
	seen := make(map[ProfileType]bool, len(parts))
	for _, p := range parts {
		pt := ProfileType(strings.TrimSpace(strings.ToLower(p)))
		if !valid[pt] {
			return nil, fmt.Errorf("unknown profile type: %q", p)
		}
		if !seen[pt] {
			seen[pt] = true
			types = append(types, pt)
		}
	}
	return types, nil
}

// Config configures a Collector.
type Config struct {
	// Dir receives one <Prefix>-<timestamp>-<type>.pprof file per profile.
	Dir      string
	Prefix   string
	Profiles []ProfileType
	// BlockRate and MutexFraction are applied while the collector runs
	// when the block or mutex profile is requested.
	BlockRate     int
	MutexFraction int
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("pprof output directory is required")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile type is required")
	}
	return nil
}

// HasProfile reports whether pt is requested.
func (c *Config) HasProfile(pt ProfileType) bool {
	for _, p := range c.Profiles {
		if p == pt {
			return true
		}
	}
	return false
}
