package scheduler

import (
	"context"
	"sync"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// opGuard enforces at most one mutating operation per installation.
type opGuard struct {
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newOpGuard() *opGuard {
	return &opGuard{running: make(map[string]context.CancelFunc)}
}

// begin claims the installation for one operation. The returned release
// func must be called exactly once; it removes the claim and cancels the
// derived context.
func (g *opGuard) begin(ctx context.Context, installationID string) (context.Context, func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.running[installationID]; busy {
		return nil, nil, hangarErrors.AnotherOperationRunning(installationID)
	}

	opCtx, cancel := context.WithCancel(ctx)
	g.running[installationID] = cancel

	release := func() {
		g.mu.Lock()
		delete(g.running, installationID)
		g.mu.Unlock()
		cancel()
	}
	return opCtx, release, nil
}

// cancel aborts the running operation for an installation, if any.
func (g *opGuard) cancel(installationID string) bool {
	g.mu.Lock()
	cancel, ok := g.running[installationID]
	g.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// busy reports whether an operation is running for the installation.
func (g *opGuard) busy(installationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[installationID]
	return ok
}
