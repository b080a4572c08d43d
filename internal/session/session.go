// Package session wires configuration, executor, engine and prober together
// for the CLI, the MCP server and the e2e suite.
package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/deixis/testfm/internal/config"
	"github.com/deixis/testfm/internal/product"
	"github.com/deixis/testfm/internal/remote"
	"github.com/deixis/testfm/internal/report"
	"github.com/deixis/testfm/internal/runner"
	"github.com/deixis/testfm/internal/workflow"
	"github.com/rs/zerolog"
)

const dialTimeout = 30 * time.Second

// Session holds everything one invocation needs.
type Session struct {
	Config   *config.Config
	RepoRoot string
	Runner   *runner.Runner
	Exec     remote.Executor
	Engine   *workflow.Engine
	Prober   *product.Prober
	Log      zerolog.Logger
}

// NewLogger returns a console logger writing to w at the named level.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// Open loads configuration from workspace and builds the executor the
// configuration selects.
func Open(workspace string, log zerolog.Logger) (*Session, error) {
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return New(loaded.Config, loaded.RepoRoot, log)
}

// New builds a session from an already loaded configuration.
func New(cfg *config.Config, repoRoot string, log zerolog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &runner.Runner{
		Dir:       repoRoot,
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		Log:       log,
	}

	exec, err := newExecutor(cfg, r, log)
	if err != nil {
		return nil, err
	}

	engine := &workflow.Engine{Config: cfg, Exec: exec, Log: log}
	if cfg.Results != "" {
		store, err := report.NewDiskStoreIn(cfg.Results)
		if err != nil {
			return nil, err
		}
		engine.Store = store
	}

	return &Session{
		Config:   cfg,
		RepoRoot: repoRoot,
		Runner:   r,
		Exec:     exec,
		Engine:   engine,
		Prober: &product.Prober{
			Runner:    r,
			Inventory: cfg.InventoryPath(),
			Packages: map[product.Role]string{
				product.Satellite: cfg.Package(string(product.Satellite)),
				product.Capsule:   cfg.Package(string(product.Capsule)),
			},
			Log: log,
		},
		Log: log,
	}, nil
}

func newExecutor(cfg *config.Config, r *runner.Runner, log zerolog.Logger) (remote.Executor, error) {
	switch cfg.TransportName() {
	case config.TransportSSH:
		exec, err := remote.NewSSH(remote.SSHOptions{
			Groups:     cfg.SSH.Groups,
			User:       cfg.RemoteUser(),
			KeyFile:    expandHome(cfg.SSH.Key),
			KnownHosts: expandHome(cfg.SSH.KnownHosts),
			Insecure:   cfg.SSH.Insecure,
			Timeout:    dialTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("ssh executor: %w", err)
		}
		return exec, nil
	default:
		a := remote.NewAnsible(r, cfg.InventoryPath(), cfg.RemoteUser(), log)
		a.Binary = cfg.Ansible.Binary
		a.Args = cfg.Ansible.Args
		return a, nil
	}
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
