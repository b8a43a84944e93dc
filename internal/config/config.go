// Package config models the process-wide configuration for the supervisor,
// loaded once at startup and treated as immutable for the lifetime of any
// task spawned against it (spec.md §5: "Configuration is effectively
// immutable during a task's lifetime; changes take effect at next spawn").
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ByteRange is an inclusive [Min, Max] range, used for the inter-byte
// injection delay.
type ByteRange struct {
	Min time.Duration `toml:"min"`
	Max time.Duration `toml:"max"`
}

// StageTimeouts models the escalation windows for the intervention
// controller (spec.md §4.3, §6 "intervention_stage_timeouts").
type StageTimeouts struct {
	GentleToFirm    time.Duration `toml:"gentle_to_firm"`
	FirmToForceful  time.Duration `toml:"firm_to_forceful"`
	ForcefulToDead  time.Duration `toml:"forceful_to_unproductive"`
	SuccessWindow   time.Duration `toml:"success_window"`
	GlobalSpacing   time.Duration `toml:"global_spacing"`
}

// Config is the enumerated configuration surface from spec.md §6.
type Config struct {
	MaxParallel          int           `toml:"max_parallel"`
	TaskTimeout          time.Duration `toml:"task_timeout"`
	OutputCap            int64         `toml:"output_cap"`
	RecentBuffer         int64         `toml:"recent_buffer"`
	ScannerWindow        int           `toml:"scanner_window"`
	InterventionCooldown time.Duration `toml:"intervention_cooldown"`
	StageTimeouts        StageTimeouts `toml:"intervention_stage_timeouts"`
	HeartbeatInterval    time.Duration `toml:"heartbeat_interval"`
	IdleLimit            time.Duration `toml:"idle_limit"`
	InterByteDelay       ByteRange     `toml:"inter_byte_delay"`
	AllowVerbs           []string      `toml:"allow_verbs"`
	DenyPhrases          []string      `toml:"deny_phrases"`
	MergePolicy          MergePolicy   `toml:"merge_policy"`

	// WorkspaceBase is the base directory under which per-execution
	// workspace subtrees are created (spec.md §6 "Workspace tree").
	WorkspaceBase string `toml:"workspace_base"`
	// LedgerPath is the path to the bbolt-backed event ledger database.
	LedgerPath string `toml:"ledger_path"`
	// LedgerRetentionCap bounds in-memory/disk retention of the ledger
	// before the archival policy (spec.md §4.7) kicks in.
	LedgerRetentionCap int `toml:"ledger_retention_cap"`
}

// MergePolicy controls Orchestrator.Merge conflict handling (spec.md §6).
type MergePolicy string

const (
	MergeAutoIfNonConflicting MergePolicy = "auto_if_nonconflicting"
	MergeManualAlways         MergePolicy = "manual_always"
)

// Default returns a Config populated with the defaults enumerated in
// spec.md §6.
func Default() *Config {
	return &Config{
		MaxParallel:          5,
		TaskTimeout:          10 * time.Minute,
		OutputCap:            16 << 20,
		RecentBuffer:         2 << 20,
		ScannerWindow:        64 << 10,
		InterventionCooldown: 5 * time.Second,
		StageTimeouts: StageTimeouts{
			GentleToFirm:   60 * time.Second,
			FirmToForceful: 60 * time.Second,
			ForcefulToDead: 60 * time.Second,
			SuccessWindow:  90 * time.Second,
			GlobalSpacing:  5 * time.Second,
		},
		HeartbeatInterval: 3 * time.Minute,
		IdleLimit:         10 * time.Minute,
		InterByteDelay:    ByteRange{Min: 40 * time.Millisecond, Max: 150 * time.Millisecond},
		AllowVerbs: []string{
			"create", "implement", "write", "add", "build", "fix", "refactor",
			"update", "delete", "remove", "rename", "generate", "run", "test",
		},
		DenyPhrases: []string{
			"let me think about", "i will research", "exploring options",
		},
		MergePolicy:        MergeAutoIfNonConflicting,
		WorkspaceBase:      "./workspaces",
		LedgerPath:         "./ledger.db",
		LedgerRetentionCap: 100_000,
	}
}

// Load applies defaults and then, if path is non-empty, overlays the TOML
// file at path; an empty path yields the defaults, and a path that cannot be
// read or decoded is an error. Unset fields in the file leave the default intact,
// since toml.Decode only mutates fields present in the document.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that Default always satisfies but a TOML
// overlay might break.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("config: max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	if c.OutputCap <= 0 {
		return fmt.Errorf("config: output_cap must be positive")
	}
	if c.ScannerWindow <= 0 {
		return fmt.Errorf("config: scanner_window must be positive")
	}
	if c.InterByteDelay.Min < 0 || c.InterByteDelay.Max < c.InterByteDelay.Min {
		return fmt.Errorf("config: inter_byte_delay range invalid: %+v", c.InterByteDelay)
	}
	switch c.MergePolicy {
	case MergeAutoIfNonConflicting, MergeManualAlways:
	default:
		return fmt.Errorf("config: unknown merge_policy %q", c.MergePolicy)
	}
	return nil
}
