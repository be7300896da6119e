package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// PolicyFile represents the optional TOML proctoring policy file.
type PolicyFile struct {
	Proctor ProctorConfig `toml:"proctor"`
}

// ProctorConfig maps proctoring settings. Unset keys keep the env values.
type ProctorConfig struct {
	MaxStrikes           *int  `toml:"max_strikes"`
	ViolationCooldownMS  *int  `toml:"violation_cooldown_ms"`
	SubmitTimeoutSeconds *int  `toml:"submit_timeout_seconds"`
	BlockClipboard       *bool `toml:"block_clipboard"`
	BlockContextMenu     *bool `toml:"block_context_menu"`
}

// Proctoring is the resolved policy handed to every attempt.
type Proctoring struct {
	MaxStrikes        int
	ViolationCooldown time.Duration
	SubmitTimeout     time.Duration
	BlockClipboard    bool
	BlockContextMenu  bool
}

// LoadPolicyFile reads a TOML policy from path. Missing file is not an error.
func LoadPolicyFile(path string) (PolicyFile, error) {
	if path == "" {
		return PolicyFile{}, fmt.Errorf("policy path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return PolicyFile{}, nil
		}
		return PolicyFile{}, fmt.Errorf("failed to stat policy: %w", err)
	}
	var pf PolicyFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return PolicyFile{}, fmt.Errorf("failed to decode policy: %w", err)
	}
	return pf, nil
}

// Proctoring resolves the env defaults and, when PolicyFile is set, the
// overrides from that file.
func (c *Config) Proctoring() (Proctoring, error) {
	p := Proctoring{
		MaxStrikes:        c.MaxStrikes,
		ViolationCooldown: c.ViolationCooldown,
		SubmitTimeout:     c.SubmitTimeout,
		BlockClipboard:    true,
		BlockContextMenu:  true,
	}
	if c.PolicyFile == "" {
		return p, nil
	}

	pf, err := LoadPolicyFile(c.PolicyFile)
	if err != nil {
		return p, err
	}
	pc := pf.Proctor
	if pc.MaxStrikes != nil {
		if *pc.MaxStrikes < 1 {
			return p, fmt.Errorf("max_strikes must be at least 1, got %d", *pc.MaxStrikes)
		}
		p.MaxStrikes = *pc.MaxStrikes
	}
	if pc.ViolationCooldownMS != nil {
		if *pc.ViolationCooldownMS < 0 {
			return p, fmt.Errorf("violation_cooldown_ms must not be negative")
		}
		p.ViolationCooldown = time.Duration(*pc.ViolationCooldownMS) * time.Millisecond
	}
	if pc.SubmitTimeoutSeconds != nil {
		if *pc.SubmitTimeoutSeconds < 1 {
			return p, fmt.Errorf("submit_timeout_seconds must be at least 1")
		}
		p.SubmitTimeout = time.Duration(*pc.SubmitTimeoutSeconds) * time.Second
	}
	if pc.BlockClipboard != nil {
		p.BlockClipboard = *pc.BlockClipboard
	}
	if pc.BlockContextMenu != nil {
		p.BlockContextMenu = *pc.BlockContextMenu
	}
	return p, nil
}
