package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions configures an SSH executor.
type SSHOptions struct {
	Groups     map[string][]string // host pattern -> host[:port]
	User       string
	KeyFile    string
	KnownHosts string // known_hosts file; ignored when Insecure
	Insecure   bool
	Timeout    time.Duration // dial timeout
}

// SSH runs commands over direct SSH sessions, one host at a time. It has
// no module layer, so Module and Expect return ErrUnsupported.
type SSH struct {
	Groups map[string][]string
	Config *ssh.ClientConfig
	Log    zerolog.Logger
}

// NewSSH builds an SSH executor from key and host-key settings.
func NewSSH(opts SSHOptions, log zerolog.Logger) (*SSH, error) {
	key, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key %s: %w", opts.KeyFile, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !opts.Insecure {
		if opts.KnownHosts == "" {
			return nil, fmt.Errorf("ssh known_hosts is required unless insecure is set")
		}
		hostKey, err = knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
	}

	return &SSH{
		Groups: opts.Groups,
		Config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKey,
			Timeout:         opts.Timeout,
		},
		Log: log,
	}, nil
}

// Command runs argv on each host of the group named by pattern.
func (s *SSH) Command(ctx context.Context, pattern string, argv []string) (Contacted, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	hosts, ok := s.Groups[pattern]
	if !ok {
		return nil, fmt.Errorf("no ssh hosts configured for pattern %q", pattern)
	}
	line := shellquote.Join(argv...)

	contacted := make(Contacted, len(hosts))
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.Log.Debug().Str("host", host).Str("command", line).Msg("dispatching")
		contacted[host] = s.runOn(ctx, host, line)
	}
	return contacted, nil
}

// Module is not available over plain SSH.
func (s *SSH) Module(context.Context, string, string, map[string]any) (Contacted, error) {
	return nil, ErrUnsupported
}

// Expect is not available over plain SSH.
func (s *SSH) Expect(context.Context, string, []string, map[string]string) (Contacted, error) {
	return nil, ErrUnsupported
}

func (s *SSH) runOn(ctx context.Context, host, line string) HostResult {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	client, err := s.dial(ctx, addr)
	if err != nil {
		return HostResult{RC: -1, Unreachable: true, Failed: true, Msg: err.Error()}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return HostResult{RC: -1, Failed: true, Msg: fmt.Sprintf("opening session: %v", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Closing the client unblocks Run when ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	r := HostResult{Changed: true}
	err = session.Run(line)
	r.Stdout = trimNewline(stdout.String())
	r.Stderr = trimNewline(stderr.String())

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		r.RC = exitErr.ExitStatus()
		r.Failed = true
	case errors.As(err, &missing):
		r.RC = -1
		r.Failed = true
		r.Msg = "remote command exited without status"
	default:
		r.RC = -1
		r.Failed = true
		r.Msg = err.Error()
	}
	return r
}

func (s *SSH) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	d := net.Dialer{Timeout: s.Config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, s.Config)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// trimNewline matches ansible, which strips the final newline of stdout.
func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}
