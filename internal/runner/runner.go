// Package runner executes local commands with a timeout and a cap on
// captured output. The ansible executor and the version prober shell out
// through it.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultMaxOutput = 1 << 20

// Runner executes local commands.
type Runner struct {
	Dir       string // working directory; ansible reads ansible.cfg from here
	Timeout   time.Duration
	MaxOutput int      // bytes kept per stream
	Env       []string // appended to the inherited environment, KEY=value
	Log       zerolog.Logger
}

// Run executes argv. The first element is the binary name, resolved via
// PATH. A non-zero exit is reported in the Result, not as an error; an
// error means the command could not be started.
func (r *Runner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argv")
	}

	limit := r.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res := &Result{RunID: uuid.New().String()}
	log := r.Log.With().Str("run", res.RunID).Str("bin", argv[0]).Logger()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Debug().Strs("argv", argv).Msg("exec")
	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("executing %s: %w", argv[0], runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	res.Stdout = stdout.buf.Bytes()
	res.Stderr = stderr.buf.Bytes()
	res.Truncated = stdout.dropped || stderr.dropped
	res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)

	log.Debug().Int("exit", res.ExitCode).Dur("took", res.Duration).
		Bool("truncated", res.Truncated).Bool("timed_out", res.TimedOut).Msg("done")
	return res, nil
}

// cappedBuffer keeps the first limit bytes written to it and counts the
// rest as dropped. Writes never fail, so the child never sees EPIPE.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped bool
}

func (w *cappedBuffer) Write(p []byte) (int, error) {
	room := w.limit - w.buf.Len()
	if len(p) > room {
		w.dropped = true
		if room > 0 {
			w.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return w.buf.Write(p)
}
