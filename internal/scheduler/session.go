package scheduler

import "sync"

// ProcessHandle is the supervised-child surface the scheduler needs.
// proc.Handle satisfies it; tests substitute fakes.
type ProcessHandle interface {
	PID() int
	Done() <-chan struct{}
	ExitErr() error
	StderrTail() string
	KillTree() error
}

// Session is one running installation.
type Session struct {
	InstallationID string
	Port           int
	URL            string
	Remote         bool
	TempDir        string

	mu          sync.Mutex
	handle      ProcessHandle
	userStopped bool
}

// Handle returns the current child process handle (nil for remote
// sessions).
func (s *Session) Handle() ProcessHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) setHandle(h ProcessHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// markStopped records that the user asked for the stop, so the exit
// handler does not report a crash.
func (s *Session) markStopped() {
	s.mu.Lock()
	s.userStopped = true
	s.mu.Unlock()
}

func (s *Session) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userStopped
}

// sessionSet tracks the running sessions by installation id.
type sessionSet struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: make(map[string]*Session)}
}

func (ss *sessionSet) get(installationID string) (*Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[installationID]
	return s, ok
}

// add registers the session unless one already exists.
func (ss *sessionSet) add(s *Session) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, exists := ss.sessions[s.InstallationID]; exists {
		return false
	}
	ss.sessions[s.InstallationID] = s
	return true
}

// remove drops the session and reports whether it was present.
func (ss *sessionSet) remove(installationID string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, ok := ss.sessions[installationID]; !ok {
		return false
	}
	delete(ss.sessions, installationID)
	return true
}

func (ss *sessionSet) list() []*Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]*Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		out = append(out, s)
	}
	return out
}
