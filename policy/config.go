package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
)

// classConfig is the YAML shape of one class override. Zero fields keep
// the default.
type classConfig struct {
	Fuel        uint64 `yaml:"fuel"`
	MemoryBytes uint64 `yaml:"memory_bytes"`
	DeadlineMs  uint64 `yaml:"deadline_ms"`
	FailureMode string `yaml:"failure_mode"`
}

type fileConfig struct {
	WAF          *classConfig `yaml:"waf"`
	EdgeFunction *classConfig `yaml:"edge_function"`
}

// LoadFile reads a YAML policy file and returns the default policy with
// the file's overrides applied. Unset fields keep their defaults.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Load(data)
}

// Load parses YAML policy overrides on top of the default policy.
func Load(data []byte) (*Policy, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}

	p := Default()
	if err := apply(p, wasmsandbox.ClassWAF, cfg.WAF); err != nil {
		return nil, err
	}
	if err := apply(p, wasmsandbox.ClassEdgeFunction, cfg.EdgeFunction); err != nil {
		return nil, err
	}
	return p, nil
}

func apply(p *Policy, class wasmsandbox.ModuleClass, c *classConfig) error {
	if c == nil {
		return nil
	}
	cp := p.For(class)
	if c.Fuel != 0 {
		cp.Limits.Fuel = c.Fuel
	}
	if c.MemoryBytes != 0 {
		cp.Limits.MemoryBytes = c.MemoryBytes
	}
	if c.DeadlineMs != 0 {
		cp.Limits.Deadline = time.Duration(c.DeadlineMs) * time.Millisecond
	}
	if c.FailureMode != "" {
		cp.FailureMode = FailureMode(c.FailureMode)
	}
	return p.Set(class, cp)
}
