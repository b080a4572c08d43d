package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/deixis/testfm/internal/runner"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// CommandRunner executes local commands.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (*runner.Result, error)
}

// callbackEnv makes ad-hoc ansible print a single JSON document.
var callbackEnv = []string{
	"ANSIBLE_STDOUT_CALLBACK=json",
	"ANSIBLE_LOAD_CALLBACK_PLUGINS=1",
	"ANSIBLE_HOST_KEY_CHECKING=False",
	"ANSIBLE_NOCOLOR=1",
}

// Ansible dispatches through the ansible ad-hoc CLI.
type Ansible struct {
	Runner    CommandRunner
	Binary    string // default: ansible
	Inventory string
	User      string
	Args      []string // extra flags appended to every invocation
	Log       zerolog.Logger
}

// NewAnsible returns an executor running ansible through a copy of r
// configured for JSON output.
func NewAnsible(r *runner.Runner, inventory, user string, log zerolog.Logger) *Ansible {
	rr := *r
	rr.Env = append(append([]string(nil), r.Env...), callbackEnv...)
	return &Ansible{
		Runner:    &rr,
		Inventory: inventory,
		User:      user,
		Log:       log,
	}
}

func (a *Ansible) binary() string {
	if a.Binary != "" {
		return a.Binary
	}
	return "ansible"
}

// Command runs argv with the command module. No shell is involved, so
// redirections and pipes must be wrapped in "sh -c" by the caller.
func (a *Ansible) Command(ctx context.Context, pattern string, argv []string) (Contacted, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	return a.run(ctx, pattern, "command", shellquote.Join(argv...))
}

// Module runs an arbitrary module with JSON-encoded arguments.
func (a *Ansible) Module(ctx context.Context, pattern, module string, args map[string]any) (Contacted, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding %s arguments: %w", module, err)
	}
	return a.run(ctx, pattern, module, string(data))
}

// Expect runs argv through the expect module.
func (a *Ansible) Expect(ctx context.Context, pattern string, argv []string, responses map[string]string) (Contacted, error) {
	return a.Module(ctx, pattern, "expect", map[string]any{
		"command":   shellquote.Join(argv...),
		"responses": responses,
	})
}

// Argv returns the ansible invocation for a module call.
func (a *Ansible) Argv(pattern, module, args string) []string {
	argv := []string{a.binary()}
	if a.Inventory != "" {
		argv = append(argv, "-i", a.Inventory)
	}
	argv = append(argv, pattern)
	if a.User != "" {
		argv = append(argv, "--user", a.User)
	}
	argv = append(argv, "-m", module, "-a", args)
	return append(argv, a.Args...)
}

func (a *Ansible) run(ctx context.Context, pattern, module, args string) (Contacted, error) {
	argv := a.Argv(pattern, module, args)
	a.Log.Debug().Str("pattern", pattern).Str("module", module).Str("args", args).Msg("dispatching")

	res, err := a.Runner.Run(ctx, argv)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, NewErrToolUnavailable(a.binary())
		}
		return nil, fmt.Errorf("executing %s: %w", a.binary(), err)
	}
	if res.TimedOut {
		return nil, fmt.Errorf("%s %s on %s: %w after %s", a.binary(), module, pattern, ErrTimeout, res.Duration.Round(time.Second))
	}
	if res.Truncated {
		a.Log.Warn().Str("module", module).Msg("ansible output truncated; raise max_output")
	}

	contacted, err := parseAnsibleJSON(res.Stdout)
	if err != nil {
		stderr := strings.TrimSpace(string(res.Stderr))
		return nil, fmt.Errorf("%s exited %d: %w: %s", a.binary(), res.ExitCode, err, stderr)
	}
	return contacted, nil
}

// ansibleOutput is the document printed by the json stdout callback.
type ansibleOutput struct {
	Plays []struct {
		Tasks []struct {
			Hosts map[string]ansibleHost `json:"hosts"`
		} `json:"tasks"`
	} `json:"plays"`
}

type ansibleHost struct {
	RC          *int            `json:"rc"`
	Stdout      string          `json:"stdout"`
	Stderr      string          `json:"stderr"`
	Msg         json.RawMessage `json:"msg"`
	Changed     bool            `json:"changed"`
	Failed      bool            `json:"failed"`
	Unreachable bool            `json:"unreachable"`
}

func parseAnsibleJSON(stdout []byte) (Contacted, error) {
	// Deprecation warnings may precede the document.
	start := bytes.IndexByte(stdout, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON document in ansible output")
	}
	var out ansibleOutput
	if err := json.Unmarshal(stdout[start:], &out); err != nil {
		return nil, fmt.Errorf("decoding ansible output: %w", err)
	}

	contacted := make(Contacted)
	for _, play := range out.Plays {
		for _, task := range play.Tasks {
			for host, h := range task.Hosts {
				r := HostResult{
					Stdout:      h.Stdout,
					Stderr:      h.Stderr,
					Msg:         rawMessage(h.Msg),
					Changed:     h.Changed,
					Failed:      h.Failed,
					Unreachable: h.Unreachable,
				}
				switch {
				case h.RC != nil:
					r.RC = *h.RC
				case h.Failed || h.Unreachable:
					// Module failed before running anything.
					r.RC = -1
				}
				contacted[host] = r
			}
		}
	}
	return contacted, nil
}

// rawMessage renders msg, which modules emit as a string or a structure.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
