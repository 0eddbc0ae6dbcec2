package jobsystem

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataDefaultedAffinity(t *testing.T) {
	m := Metadata{Label: 1}.defaulted()
	require.Equal(t, AffinityAny, m.WorkerAffinity)

	m2 := Metadata{Label: 1, WorkerAffinity: AffinityMain}.defaulted()
	require.Equal(t, AffinityMain, m2.WorkerAffinity)
}

func TestTaskHandleStaleAfterRelease(t *testing.T) {
	sys := testSystem(t)

	h := sys.CreateVoidTask(func() error { return nil }, Metadata{Label: 1})
	require.True(t, h.IsValid())
	require.NoError(t, h.Schedule())
	sys.Wait()
	require.True(t, sys.IsWorkDone(h))

	// drainDead already returned h's slot to the arena; IsValid should report
	// false even before the slot is reused and its generation bumped
	// (arena_test.go covers the generation-bump case directly).
	require.False(t, h.IsValid())

	_, err := h.resolve()
	require.NoError(t, err) // resolve only checks generation, not liveness
}

func TestAddChildBlocksUntilParentFinishes(t *testing.T) {
	sys := testSystem(t)

	var parentDone atomic.Bool
	var childSawParentDone atomic.Bool

	parent := sys.CreateVoidTask(func() error {
		parentDone.Store(true)
		return nil
	}, Metadata{Label: 1})
	child := sys.CreateVoidTask(func() error {
		childSawParentDone.Store(parentDone.Load())
		return nil
	}, Metadata{Label: 2})

	require.NoError(t, parent.AddChild(child))
	require.NoError(t, parent.Schedule())
	sys.Wait()

	require.True(t, childSawParentDone.Load())
}

func TestScheduleTwiceFails(t *testing.T) {
	sys := testSystem(t)
	h := sys.CreateVoidTask(func() error { return nil }, Metadata{Label: 1})
	require.NoError(t, h.Schedule())
	sys.Wait()
	require.ErrorIs(t, h.Schedule(), ErrAlreadyScheduled)
}
