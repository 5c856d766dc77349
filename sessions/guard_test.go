package sessions_test

import (
	"testing"

	"github.com/jrsteele09/go-admin-session/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootGuard_CommitsOncePerEpoch(t *testing.T) {
	g := &sessions.BootGuard{}

	e1, ok := g.Begin()
	require.True(t, ok)
	e2, ok := g.Begin()
	require.True(t, ok)
	require.Equal(t, e1, e2)
	assert.Equal(t, sessions.BootRestoring, g.State())

	applied := 0
	apply := func() { applied++ }
	assert.True(t, g.Commit(e1, apply))
	assert.False(t, g.Commit(e2, apply))
	assert.Equal(t, 1, applied)
	assert.Equal(t, sessions.BootCommitted, g.State())

	_, ok = g.Begin()
	assert.False(t, ok)
}

func TestBootGuard_FailAfterCommitIsNoop(t *testing.T) {
	g := &sessions.BootGuard{}
	epoch, _ := g.Begin()
	require.True(t, g.Commit(epoch, nil))

	called := false
	assert.False(t, g.Fail(epoch, func() { called = true }))
	assert.False(t, called)
	assert.Equal(t, sessions.BootCommitted, g.State())
}

func TestBootGuard_LastFailureStartsNewEpoch(t *testing.T) {
	g := &sessions.BootGuard{}
	epoch, _ := g.Begin()

	require.True(t, g.Fail(epoch, nil))
	assert.Equal(t, sessions.BootIdle, g.State())
	assert.Equal(t, epoch+1, g.Epoch())
	assert.False(t, g.Commit(epoch, nil))
}

func TestBootGuard_FailLeavesSiblingFreeToCommit(t *testing.T) {
	g := &sessions.BootGuard{}
	first, _ := g.Begin()
	second, _ := g.Begin()
	require.Equal(t, 2, g.Live())

	failed := false
	assert.False(t, g.Fail(first, func() { failed = true }))
	assert.False(t, failed, "a failure with a live sibling applies nothing")
	assert.Equal(t, sessions.BootRestoring, g.State())
	assert.Equal(t, 1, g.Live())

	assert.True(t, g.Commit(second, nil))
	assert.Equal(t, sessions.BootCommitted, g.State())
	assert.Zero(t, g.Live())
}

func TestBootGuard_EveryAttemptFails(t *testing.T) {
	g := &sessions.BootGuard{}
	first, _ := g.Begin()
	second, _ := g.Begin()

	applied := 0
	apply := func() { applied++ }
	assert.False(t, g.Fail(first, apply))
	assert.True(t, g.Fail(second, apply))
	assert.Equal(t, 1, applied)
	assert.Equal(t, sessions.BootIdle, g.State())
	assert.Equal(t, first+1, g.Epoch())
}

func TestBootGuard_AbandonWaitsForSiblings(t *testing.T) {
	g := &sessions.BootGuard{}
	first, _ := g.Begin()
	_, _ = g.Begin()

	assert.False(t, g.Abandon(first, nil))
	assert.Equal(t, sessions.BootRestoring, g.State())
	assert.Equal(t, first, g.Epoch())
}

func TestBootGuard_ResetStartsNewEpoch(t *testing.T) {
	g := &sessions.BootGuard{}
	old, _ := g.Begin()
	require.True(t, g.Commit(old, nil))

	g.Reset(nil)
	assert.Equal(t, sessions.BootIdle, g.State())
	assert.Equal(t, old+1, g.Epoch())

	epoch, ok := g.Begin()
	require.True(t, ok)
	assert.False(t, g.Commit(old, nil))
	assert.True(t, g.Commit(epoch, nil))
}

func TestBootState_String(t *testing.T) {
	assert.Equal(t, "idle", sessions.BootIdle.String())
	assert.Equal(t, "restoring", sessions.BootRestoring.String())
	assert.Equal(t, "committed", sessions.BootCommitted.String())
}
