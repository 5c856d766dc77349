package sessions

import "sync"

type BootState int

const (
	BootIdle BootState = iota
	BootRestoring
	BootCommitted
)

func (s BootState) String() string {
	switch s {
	case BootIdle:
		return "idle"
	case BootRestoring:
		return "restoring"
	case BootCommitted:
		return "committed"
	}
	return "unknown"
}

// BootGuard makes a session commit at most once per epoch. Attempts begun in
// the same epoch run independently: any of them may commit, and the epoch only
// fails once every live attempt has failed. Reset starts a new epoch; attempts
// begun in an older epoch can no longer commit or fail.
type BootGuard struct {
	mu    sync.Mutex
	state BootState
	epoch uint64
	live  int
}

func (g *BootGuard) State() BootState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *BootGuard) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// Live reports how many attempts of the current epoch have neither committed
// nor finished.
func (g *BootGuard) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

// Begin registers an attempt. proceed is false once the epoch has committed.
func (g *BootGuard) Begin() (epoch uint64, proceed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == BootCommitted {
		return g.epoch, false
	}
	g.state = BootRestoring
	g.live++
	return g.epoch, true
}

// Commit runs apply and moves to BootCommitted if epoch is still current and
// uncommitted. apply runs under the guard lock.
func (g *BootGuard) Commit(epoch uint64, apply func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.current(epoch) {
		return false
	}
	if apply != nil {
		apply()
	}
	g.state = BootCommitted
	g.live = 0
	return true
}

// Fail records a failed attempt. Only the last live attempt of the epoch runs
// apply, returns the guard to idle and starts a new epoch; earlier failures
// return false and leave their siblings free to commit.
func (g *BootGuard) Fail(epoch uint64, apply func()) bool {
	return g.finish(epoch, true, apply)
}

// Abandon records an attempt that found nothing to restore. Like Fail it
// applies only for the last live attempt, but keeps the epoch.
func (g *BootGuard) Abandon(epoch uint64, apply func()) bool {
	return g.finish(epoch, false, apply)
}

// Reset starts a new epoch regardless of state. apply receives the state
// the guard was in.
func (g *BootGuard) Reset(apply func(previous BootState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	previous := g.state
	g.state = BootIdle
	g.epoch++
	g.live = 0
	if apply != nil {
		apply(previous)
	}
}

// whileCurrent runs fn under the lock if epoch is current and uncommitted.
func (g *BootGuard) whileCurrent(epoch uint64, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.current(epoch) {
		return false
	}
	fn()
	return true
}

func (g *BootGuard) finish(epoch uint64, bump bool, apply func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.current(epoch) {
		return false
	}
	if g.live > 0 {
		g.live--
	}
	if g.live > 0 {
		return false
	}
	if apply != nil {
		apply()
	}
	g.state = BootIdle
	if bump {
		g.epoch++
	}
	return true
}

func (g *BootGuard) current(epoch uint64) bool {
	return epoch == g.epoch && g.state != BootCommitted
}
