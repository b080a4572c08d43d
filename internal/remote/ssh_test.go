package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type execReply struct {
	stdout, stderr string
	status         uint32
}

// startSSHServer serves exec requests on a loopback listener, answering
// each command with handle. It returns the listen address and host key.
func startSSHServer(t *testing.T, handle func(cmd string) execReply) (string, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg, handle)
		}
	}()
	return ln.Addr().String(), signer.PublicKey()
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig, handle func(string) execReply) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range creqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				reply := handle(payload.Command)
				_, _ = io.WriteString(ch, reply.stdout)
				_, _ = io.WriteString(ch.Stderr(), reply.stderr)
				status := struct{ Status uint32 }{reply.status}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
				return
			}
		}()
	}
}

func newTestSSH(groups map[string][]string, hostKey ssh.PublicKey) *SSH {
	return &SSH{
		Groups: groups,
		Config: &ssh.ClientConfig{
			User:            "root",
			HostKeyCallback: ssh.FixedHostKey(hostKey),
			Timeout:         5 * time.Second,
		},
		Log: zerolog.Nop(),
	}
}

func TestSSHCommand(t *testing.T) {
	cmds := make(chan string, 1)
	addr, hostKey := startSSHServer(t, func(cmd string) execReply {
		cmds <- cmd
		return execReply{stdout: "Check whether all services are running: [FAIL]\n", status: 1}
	})
	s := newTestSSH(map[string][]string{"satellite": {addr}}, hostKey)

	contacted, err := s.Command(context.Background(), "satellite",
		[]string{"foreman-maintain", "health", "check", "--label", "hammer-ping"})
	require.NoError(t, err)

	assert.Equal(t, "foreman-maintain health check --label hammer-ping", <-cmds)
	r := contacted[addr]
	assert.Equal(t, 1, r.RC)
	assert.True(t, r.Failed)
	assert.Equal(t, "Check whether all services are running: [FAIL]", r.Stdout)
}

func TestSSHCommand_Success(t *testing.T) {
	addr, hostKey := startSSHServer(t, func(string) execReply {
		return execReply{stdout: "ok\n", stderr: "note\n"}
	})
	s := newTestSSH(map[string][]string{"capsule": {addr}}, hostKey)

	contacted, err := s.Command(context.Background(), "capsule", []string{"foreman-maintain", "health", "list"})
	require.NoError(t, err)
	r := contacted[addr]
	assert.Equal(t, 0, r.RC)
	assert.False(t, r.Failed)
	assert.Equal(t, "ok", r.Stdout)
	assert.Equal(t, "note", r.Stderr)
}

func TestSSHCommand_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := newTestSSH(map[string][]string{"satellite": {addr}}, nil)
	s.Config.HostKeyCallback = ssh.InsecureIgnoreHostKey()

	contacted, err := s.Command(context.Background(), "satellite", []string{"true"})
	require.NoError(t, err)
	assert.True(t, contacted[addr].Unreachable)
	assert.Equal(t, -1, contacted[addr].RC)
}

func TestSSHCommand_UnknownPattern(t *testing.T) {
	s := newTestSSH(nil, nil)
	_, err := s.Command(context.Background(), "capsule", []string{"true"})
	assert.Error(t, err)
}

func TestSSHUnsupported(t *testing.T) {
	s := newTestSSH(nil, nil)
	_, err := s.Module(context.Background(), "satellite", "file", nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.Expect(context.Background(), "satellite", []string{"true"}, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestNewSSH(t *testing.T) {
	key := writeTestKey(t)

	s, err := NewSSH(SSHOptions{
		Groups:   map[string][]string{"satellite": {"sat.example.com"}},
		User:     "root",
		KeyFile:  key,
		Insecure: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "root", s.Config.User)

	_, err = NewSSH(SSHOptions{KeyFile: key}, zerolog.Nop())
	assert.Error(t, err, "known_hosts is required when not insecure")

	_, err = NewSSH(SSHOptions{KeyFile: filepath.Join(t.TempDir(), "missing")}, zerolog.Nop())
	assert.Error(t, err)
}
