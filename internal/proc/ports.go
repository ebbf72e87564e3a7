package proc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// DefaultWaitTimeout bounds WaitForPort and WaitForURL.
const DefaultWaitTimeout = 120 * time.Second

// FindPidsByPort returns the pids listening on the given TCP port.
// Connection enumeration goes through gopsutil; when that fails (reduced
// privileges on some platforms) the system netstat/lsof output is parsed
// instead.
func FindPidsByPort(port int) ([]int, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		slog.Debug("connection enumeration failed, falling back to system tools", "error", err)
		return findPidsByPortFallback(port)
	}

	var pids []int
	seen := map[int]bool{}
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}
		pid := int(c.Pid)
		if pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids, nil
}

// findPidsByPortFallback shells out to netstat (Windows) or lsof (POSIX).
func findPidsByPortFallback(port int) ([]int, error) {
	var out []byte
	var err error
	if runtime.GOOS == "windows" {
		out, err = exec.Command("netstat", "-ano", "-p", "tcp").Output()
	} else {
		out, err = exec.Command("lsof", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN").Output()
	}
	if err != nil {
		// lsof exits non-zero when nothing matches.
		return nil, nil
	}

	var pids []int
	seen := map[int]bool{}
	if runtime.GOOS == "windows" {
		needle := ":" + strconv.Itoa(port)
		for _, line := range strings.Split(string(out), "\n") {
			fields := strings.Fields(line)
			if len(fields) < 5 || !strings.HasSuffix(fields[1], needle) {
				continue
			}
			if !strings.EqualFold(fields[3], "LISTENING") {
				continue
			}
			if pid, err := strconv.Atoi(fields[4]); err == nil && pid > 0 && !seen[pid] {
				seen[pid] = true
				pids = append(pids, pid)
			}
		}
	} else {
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 && !seen[pid] {
				seen[pid] = true
				pids = append(pids, pid)
			}
		}
	}
	return pids, nil
}

// KillByPort kills every process listening on the port. The number of
// processes killed is returned.
func KillByPort(port int) (int, error) {
	pids, err := FindPidsByPort(port)
	if err != nil {
		return 0, err
	}
	killed := 0
	for _, pid := range pids {
		if err := killTree(pid); err != nil {
			slog.Warn("failed to kill process", "pid", pid, "port", port, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

// IsPortFree reports whether the port can be bound on localhost.
func IsPortFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// FindAvailablePort probes ports starting at start and returns the first
// bindable one within the window.
func FindAvailablePort(start, window int) (int, error) {
	for port := start; port < start+window; port++ {
		if port > 65535 {
			break
		}
		if IsPortFree(port) {
			return port, nil
		}
	}
	return 0, &hangarErrors.Error{
		Category: hangarErrors.CategoryLaunch,
		Code:     hangarErrors.CodeNoFreePort,
		Message:  fmt.Sprintf("no free port found in [%d, %d)", start, start+window),
		Hint:     "Stop other services or pick a different base port.",
	}
}

// SetPortArg rewrites the --port argument in args, appending it when
// absent. Both "--port N" and "--port=N" forms are handled.
func SetPortArg(args []string, port int) []string {
	value := strconv.Itoa(port)
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--port":
			out = append(out, arg, value)
			if i+1 < len(args) {
				i++ // skip old value
			}
		case strings.HasPrefix(arg, "--port="):
			out = append(out, "--port="+value)
		default:
			out = append(out, arg)
		}
	}
	for _, arg := range out {
		if arg == "--port" || strings.HasPrefix(arg, "--port=") {
			return out
		}
	}
	return append(out, "--port", value)
}

// WaitOptions tune WaitForPort and WaitForURL.
type WaitOptions struct {
	Timeout  time.Duration // defaults to DefaultWaitTimeout
	Interval time.Duration // defaults to 500ms
	OnPoll   func(attempt int)
}

func (o *WaitOptions) fill() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
}

// WaitForPort polls until a TCP connection to host:port succeeds.
func WaitForPort(ctx context.Context, host string, port int, opts WaitOptions) error {
	opts.fill()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return pollUntil(ctx, opts, "port "+addr, func() bool {
		conn, err := net.DialTimeout("tcp", addr, opts.Interval)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	})
}

// WaitForURL polls until a GET to the URL returns any HTTP response.
func WaitForURL(ctx context.Context, url string, opts WaitOptions) error {
	opts.fill()
	client := &http.Client{Timeout: opts.Interval * 2}
	return pollUntil(ctx, opts, url, func() bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	})
}

func pollUntil(ctx context.Context, opts WaitOptions, what string, probe func() bool) error {
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if opts.OnPoll != nil {
			opts.OnPoll(attempt)
		}
		if probe() {
			return nil
		}
		if time.Now().After(deadline) {
			return &hangarErrors.Error{
				Category: hangarErrors.CategoryLaunch,
				Code:     hangarErrors.CodeStartupTimeout,
				Message:  fmt.Sprintf("timed out waiting for %s", what),
			}
		}
		select {
		case <-ctx.Done():
			return hangarErrors.Cancelled("wait")
		case <-ticker.C:
		}
	}
}
