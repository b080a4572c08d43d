// Package config loads and validates the optional .testfm YAML file and
// applies TESTFM_* environment overrides on top of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for runner and remote configuration.
const (
	DefaultTimeout     = 10 * time.Minute
	DefaultMaxOutput   = 1 << 20 // 1 MB
	DefaultInventory   = "testfm/inventory"
	DefaultHostPattern = "satellite"
	DefaultUser        = "root"
	DefaultTool        = "foreman-maintain"
	DefaultTransport   = TransportAnsible
	DefaultLogLevel    = "info"
)

// Transport names accepted in the transport field.
const (
	TransportAnsible = "ansible"
	TransportSSH     = "ssh"
)

// FileName is the name of the configuration file looked up at the repo root.
const FileName = ".testfm"

// Config holds the parsed .testfm configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version       int               `yaml:"version"`
	RawTimeout    string            `yaml:"timeout"`    // e.g. "10m", "30s"
	RawMaxOutput  int               `yaml:"max_output"` // bytes
	Inventory     string            `yaml:"inventory"`
	HostPattern   string            `yaml:"host_pattern"` // satellite or capsule
	User          string            `yaml:"user"`
	Tool          string            `yaml:"tool"`
	Transport     string            `yaml:"transport"`
	LogLevel      string            `yaml:"log_level"`
	Marks         []string          `yaml:"marks"`
	Whitelist     []string          `yaml:"whitelist"`
	Results       string            `yaml:"results"` // directory run results are kept in
	UpstreamRepos map[string]string `yaml:"upstream_repos"` // repo name -> baseurl
	Packages      PackagesConfig    `yaml:"packages"`
	Ansible       AnsibleConfig     `yaml:"ansible"`
	SSH           SSHConfig         `yaml:"ssh"`
}

// PackagesConfig names the RPM whose version identifies each role.
type PackagesConfig struct {
	Satellite string `yaml:"satellite"`
	Capsule   string `yaml:"capsule"`
}

// AnsibleConfig controls how the ansible executor is invoked.
type AnsibleConfig struct {
	Binary string   `yaml:"binary"` // default: ansible (resolved via PATH)
	Args   []string `yaml:"args"`   // extra flags (e.g. --forks=1)
}

// SSHConfig controls the direct SSH executor.
type SSHConfig struct {
	Groups     map[string][]string `yaml:"groups"` // host pattern -> host[:port]
	Key        string              `yaml:"key"`    // private key path
	KnownHosts string              `yaml:"known_hosts"`
	Insecure   bool                `yaml:"insecure"` // skip host key verification
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// InventoryPath returns the ansible inventory path or the default.
func (c *Config) InventoryPath() string {
	if c.Inventory != "" {
		return c.Inventory
	}
	return DefaultInventory
}

// Pattern returns the host pattern the suite runs against.
func (c *Config) Pattern() string {
	if c.HostPattern != "" {
		return c.HostPattern
	}
	return DefaultHostPattern
}

// RemoteUser returns the user remote commands run as.
func (c *Config) RemoteUser() string {
	if c.User != "" {
		return c.User
	}
	return DefaultUser
}

// ToolName returns the maintenance CLI binary name.
func (c *Config) ToolName() string {
	if c.Tool != "" {
		return c.Tool
	}
	return DefaultTool
}

// TransportName returns the configured transport, falling back to ansible.
func (c *Config) TransportName() string {
	if c.Transport != "" {
		return c.Transport
	}
	return DefaultTransport
}

// Level returns the configured log level.
func (c *Config) Level() string {
	if c.LogLevel != "" {
		return c.LogLevel
	}
	return DefaultLogLevel
}

// DefaultWhitelist is skipped when sweeping every tag: both checks are
// environment-sensitive and fail on undersized test hosts.
var DefaultWhitelist = []string{"disk-performance", "packages-install"}

// WhitelistString returns the checks to whitelist as the CLI expects them.
func (c *Config) WhitelistString() string {
	w := c.Whitelist
	if len(w) == 0 {
		w = DefaultWhitelist
	}
	return strings.Join(w, ", ")
}

// DefaultUpstreamRepos are community repositories whose presence the
// upstream repository check reports.
var DefaultUpstreamRepos = map[string]string{
	"foreman_repo":      "https://yum.theforeman.org/releases/latest/el7/x86_64/",
	"puppet_repo":       "https://yum.puppetlabs.com/puppet5/el/7/x86_64/",
	"fedorapeople_repo": "https://fedorapeople.org/groups/katello/releases/yum/latest/katello/el7/x86_64/",
}

// Upstream returns the upstream repositories to configure, by name.
func (c *Config) Upstream() map[string]string {
	if len(c.UpstreamRepos) > 0 {
		return c.UpstreamRepos
	}
	return DefaultUpstreamRepos
}

// Package returns the RPM probed for the given role.
func (c *Config) Package(role string) string {
	switch role {
	case "satellite":
		if c.Packages.Satellite != "" {
			return c.Packages.Satellite
		}
		return "satellite"
	case "capsule":
		if c.Packages.Capsule != "" {
			return c.Packages.Capsule
		}
		return "satellite-capsule"
	}
	return role
}

// Validate checks that enumerated fields hold known values.
func (c *Config) Validate() error {
	switch c.TransportName() {
	case TransportAnsible, TransportSSH:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportAnsible, TransportSSH)
	}
	if c.TransportName() == TransportSSH && len(c.SSH.Groups[c.Pattern()]) == 0 {
		return fmt.Errorf("ssh transport has no hosts for pattern %q", c.Pattern())
	}
	return nil
}

// applyEnv overrides fields from TESTFM_* environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TESTFM_HOST_PATTERN"); v != "" {
		c.HostPattern = v
	}
	if v := getenv("TESTFM_INVENTORY"); v != "" {
		c.Inventory = v
	}
	if v := getenv("TESTFM_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := getenv("TESTFM_USER"); v != "" {
		c.User = v
	}
	if v := getenv("TESTFM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("TESTFM_MARKS"); v != "" {
		c.Marks = strings.Split(v, ",")
	}
	if v := getenv("TESTFM_MAX_OUTPUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TESTFM_MAX_OUTPUT must be a number (bytes)")
		}
		c.RawMaxOutput = n
	}
	if v := getenv("TESTFM_TIMEOUT"); v != "" {
		c.RawTimeout = v
	}
	if v := getenv("TESTFM_RESULTS"); v != "" {
		c.Results = v
	}
	return nil
}

// LoadResult holds the parsed config and the discovered repository root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory containing go.mod; falls back to workspace
}

// Load reads the .testfm file from the repository root and applies
// environment overrides. The repository root is discovered by walking
// upward from workspace looking for go.mod. If no .testfm file exists,
// a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	return load(workspace, os.Getenv)
}

func load(workspace string, getenv func(string) string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		// No go.mod found; use workspace as root.
		root = workspace
	}

	cfg := &Config{}
	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	// Relative inventory paths are relative to the repo root, as they
	// are when ansible runs from there.
	if cfg.Inventory != "" && !filepath.IsAbs(cfg.Inventory) {
		cfg.Inventory = filepath.Join(root, cfg.Inventory)
	}
	if cfg.Inventory == "" {
		cfg.Inventory = filepath.Join(root, DefaultInventory)
	}
	if cfg.Results != "" && !filepath.IsAbs(cfg.Results) {
		cfg.Results = filepath.Join(root, cfg.Results)
	}
	return &LoadResult{Config: cfg, RepoRoot: root}, nil
}

// findRepoRoot walks upward from dir looking for a directory containing go.mod.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
