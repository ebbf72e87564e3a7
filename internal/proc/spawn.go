// Package proc supervises payload processes: spawning with process-group
// isolation, tree kill, port probing and cross-process port locks.
package proc

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Spec describes a child process to spawn.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	// OnStdout and OnStderr receive output lines as they arrive.
	OnStdout func(line string)
	OnStderr func(line string)
}

// Handle is a running child process with captured output.
type Handle struct {
	cmd *exec.Cmd

	mu      sync.Mutex
	waited  bool
	waitErr error
	done    chan struct{}

	stderrTail *TailBuffer
}

// Spawn starts the process in its own group so the whole tree can be
// killed. Stdout and stderr are captured and streamed line-wise.
func Spawn(spec Spec) (*Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	h := &Handle{
		cmd:        cmd,
		done:       make(chan struct{}),
		stderrTail: NewTailBuffer(4096),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, spec.OnStdout, nil)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, spec.OnStderr, h.stderrTail)
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		h.mu.Lock()
		h.waited = true
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	slog.Debug("spawned process", "command", spec.Command, "pid", cmd.Process.Pid)
	return h, nil
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Done is closed when the process has exited and output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the Wait error after Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// StderrTail returns the last captured stderr bytes (capped at 4 KiB).
func (h *Handle) StderrTail() string {
	return h.stderrTail.String()
}

// KillTree delivers SIGKILL to the whole process group (POSIX) or runs
// `taskkill /T /F` (Windows).
func (h *Handle) KillTree() error {
	return killTree(h.cmd.Process.Pid)
}

func scanLines(r io.Reader, onLine func(string), tail *TailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.Write([]byte(line + "\n"))
		}
		if onLine != nil {
			onLine(line)
		}
	}
}

// TailBuffer keeps the last cap bytes written to it.
type TailBuffer struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

// NewTailBuffer creates a TailBuffer with the given capacity in bytes.
func NewTailBuffer(capacity int) *TailBuffer {
	return &TailBuffer{cap: capacity}
}

// Write appends p, discarding the oldest bytes beyond capacity.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	return len(p), nil
}

// String returns the buffered tail.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
