// Package config provides configuration loading for the ARA kernel.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the kernel's ara.toml configuration, layered as
// defaults -> file -> environment variables.
type Config struct {
	Kernel    KernelConfig    `toml:"kernel"`
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Security  SecurityConfig  `toml:"security"`
	Roles     RolesConfig     `toml:"roles"`
	Skills    SkillsConfig    `toml:"skills"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// KernelConfig identifies the running kernel instance.
type KernelConfig struct {
	InstanceID string `toml:"instance_id"`
	Workspace  string `toml:"workspace"`
}

// LLMConfig describes the external LLM collaborator used for goal
// decomposition, confidence-gated execution, and drift-triggered re-planning.
type LLMConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	APIKeyEnv  string `toml:"api_key_env"`
	MaxRetries int    `toml:"max_retries"`
}

// StorageConfig locates the kernel's on-disk state per the persisted-state
// layout (roles/, skills/, sessions/, audit/, credentials/).
type StorageConfig struct {
	Path string `toml:"path"`
}

// SecurityConfig configures the AEGIS Gate and Prompt Guard.
type SecurityConfig struct {
	Mode                   string   `toml:"mode"` // "default" or "paranoid"
	SecretScanAllowlist    []string `toml:"secret_scan_allowlist"`
	DefaultWriteLimitBytes int      `toml:"default_write_limit_bytes"`
}

// RolesConfig locates role profile definitions.
type RolesConfig struct {
	Dir string `toml:"dir"`
}

// SkillsConfig locates skill search paths.
type SkillsConfig struct {
	Paths []string `toml:"paths"`
}

// SandboxConfig selects and configures the pluggable sandbox backend.
type SandboxConfig struct {
	Backend string `toml:"backend"` // "local-overlay" (default) or "container"
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Storage: StorageConfig{Path: "~/.local/share/ara"},
		Security: SecurityConfig{
			Mode:                   "default",
			DefaultWriteLimitBytes: 2 * 1024 * 1024,
		},
		Roles:   RolesConfig{Dir: "roles"},
		Sandbox: SandboxConfig{Backend: "local-overlay"},
	}
}

// Default is an alias of New, mirroring the teacher's naming.
func Default() *Config { return New() }

// LoadFile loads configuration from a TOML file, over defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadDefault loads ara.toml from the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "ara.toml"))
}

// applyEnv lets environment variables override file/default values, the
// lowest-precedence-to-highest chain the operator surface documents.
func (c *Config) applyEnv() {
	if v := os.Getenv("ARA_WORKSPACE"); v != "" {
		c.Kernel.Workspace = v
	}
	if v := os.Getenv("ARA_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("ARA_SECURITY_MODE"); v != "" {
		c.Security.Mode = v
	}
}

// GetAPIKey returns the LLM provider API key from its configured env var.
func (c *Config) GetAPIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// RolesDir resolves the role profile directory relative to storage path.
func (c *Config) RolesDir() string {
	if filepath.IsAbs(c.Roles.Dir) {
		return c.Roles.Dir
	}
	return filepath.Join(c.Storage.Path, c.Roles.Dir)
}
