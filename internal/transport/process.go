// Package transport supervises the external encoder/decoder process and
// frames the raw pixel stream flowing over its pipes.
//
// The external process is a black-box byte transformer: raw BGR24 in,
// compressed datagram stream out (encode), or the reverse (decode). It is
// never assumed alive; its lifecycle is modeled explicitly and observed
// through Done().
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrProcessExited marks the transport subprocess dying. It is fatal to the
// owning loop and escalates to full pipeline shutdown.
var ErrProcessExited = errors.New("transport process exited")

// State tracks the supervised subprocess lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	default:
		return "exited"
	}
}

// Process is a supervised external subprocess with pipe access. The stderr
// stream is drained to the log so the pipe can never fill and stall ffmpeg.
type Process struct {
	name string
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu       sync.Mutex
	state    State
	exitCode int
	exitErr  error

	done      chan struct{}
	stopOnce  sync.Once
	waitGroup sync.WaitGroup
}

// Options selects which pipes the caller needs.
type Options struct {
	// WantStdin opens a pipe for writing raw frames into the process
	WantStdin bool
	// WantStdout opens a pipe for reading raw frames out of the process
	WantStdout bool
}

// Start launches the subprocess and begins supervision. The process
// deliberately does not share a context with its owner: a cancelled run
// context must not hard-kill it mid-write, Stop performs the graceful
// teardown instead.
func Start(name, bin string, args []string, opts Options) (*Process, error) {
	p := &Process{
		name: name,
		cmd:  exec.Command(bin, args...),
		done: make(chan struct{}),
	}

	if opts.WantStdin {
		stdin, err := p.cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create %s stdin pipe: %w", name, err)
		}
		p.stdin = stdin
	}
	if opts.WantStdout {
		stdout, err := p.cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create %s stdout pipe: %w", name, err)
		}
		p.stdout = stdout
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s stderr pipe: %w", name, err)
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	slog.Info("transport process started",
		"process", name,
		"bin", bin,
		"pid", p.cmd.Process.Pid,
	)

	p.waitGroup.Add(2)
	go p.logStderr(stderr)
	go p.waitProcess()

	return p, nil
}

// logStderr drains the subprocess stderr, surfacing only lines that matter.
// ffmpeg writes its banner and progress there; passing everything through
// at info level would bury the real log.
func (p *Process) logStderr(stderr io.Reader) {
	defer p.waitGroup.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if containsAny(line, "error", "Error", "fail", "fatal", "Invalid") {
			slog.Warn("transport process stderr", "process", p.name, "log", line)
		} else {
			slog.Debug("transport process stderr", "process", p.name, "log", line)
		}
	}
}

// waitProcess reaps the subprocess and records its exit, preventing
// zombies.
func (p *Process) waitProcess() {
	defer p.waitGroup.Done()

	err := p.cmd.Wait()

	p.mu.Lock()
	p.state = StateExited
	p.exitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	code := p.exitCode
	p.mu.Unlock()

	close(p.done)

	if err != nil {
		slog.Warn("transport process exited", "process", p.name, "exit_code", code, "error", err)
	} else {
		slog.Info("transport process exited cleanly", "process", p.name)
	}
}

// Stdin returns the write pipe (nil unless requested at Start).
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read pipe (nil unless requested at Start).
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Done is closed once the subprocess has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// State returns the current lifecycle state and, once exited, the exit
// code.
func (p *Process) State() (State, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.exitCode
}

// Running reports whether the subprocess is still alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRunning
}

// Stop shuts the subprocess down: close stdin to signal EOF, wait up to
// grace, then kill. Safe to call more than once.
func (p *Process) Stop(grace time.Duration) error {
	var stopErr error
	p.stopOnce.Do(func() {
		if p.stdin != nil {
			// EOF on stdin is the graceful shutdown signal for a pipe
			// transformer like ffmpeg
			if err := p.stdin.Close(); err != nil {
				slog.Debug("transport stdin close failed", "process", p.name, "error", err)
			}
		} else if p.Running() {
			// No stdin to close; SIGINT asks ffmpeg to finish writing its
			// current output before exiting
			if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
				slog.Debug("transport interrupt failed", "process", p.name, "error", err)
			}
		}

		select {
		case <-p.done:
		case <-time.After(grace):
			slog.Warn("transport process did not exit in time, killing",
				"process", p.name,
				"grace", grace,
			)
			if err := p.cmd.Process.Kill(); err != nil {
				stopErr = fmt.Errorf("failed to kill %s: %w", p.name, err)
			}
			<-p.done
		}

		p.waitGroup.Wait()
	})
	return stopErr
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
