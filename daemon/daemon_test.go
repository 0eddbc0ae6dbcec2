package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	rescheduled []string
	released    []string
}

func (f *fakeHost) Reschedule(task string) error {
	f.rescheduled = append(f.rescheduled, task)
	return nil
}

func (f *fakeHost) Release(task string) {
	f.released = append(f.released, task)
}

func TestDaemonRunsExactlyTTLTimesThenFrees(t *testing.T) {
	host := &fakeHost{}
	s := NewScheduler[string](host)
	h := s.Create("heartbeat", SchedulingData{IntervalMS: 100, TTL: 4})

	for tick := 0; tick < 40; tick++ {
		s.Update(50)
	}

	require.Len(t, host.rescheduled, 4)
	require.Len(t, host.released, 1)
	require.Equal(t, "heartbeat", host.released[0])
	require.Equal(t, 0, s.Len())
	_ = h
}

func TestDaemonInfiniteTTLNeverStops(t *testing.T) {
	host := &fakeHost{}
	s := NewScheduler[string](host)
	s.Create("forever", SchedulingData{IntervalMS: 100, TTL: -1})

	for tick := 0; tick < 100; tick++ {
		s.Update(50)
	}

	require.Len(t, host.rescheduled, 50)
	require.Empty(t, host.released)
	require.Equal(t, 1, s.Len())
}

func TestKillReleasesOnNextUpdate(t *testing.T) {
	host := &fakeHost{}
	s := NewScheduler[string](host)
	h := s.Create("daemon", SchedulingData{IntervalMS: 100, TTL: -1})

	s.Update(50)
	require.Empty(t, host.released)

	s.Kill(h)
	require.Empty(t, host.released, "kill should not release synchronously")

	s.Update(10)
	require.Len(t, host.released, 1)
	require.Equal(t, 0, s.Len())
}

func TestMultipleDaemonsIndependent(t *testing.T) {
	host := &fakeHost{}
	s := NewScheduler[string](host)
	s.Create("fast", SchedulingData{IntervalMS: 50, TTL: -1})
	s.Create("slow", SchedulingData{IntervalMS: 200, TTL: -1})

	s.Update(50)
	require.Equal(t, []string{"fast"}, host.rescheduled)

	s.Update(150)
	require.Len(t, host.rescheduled, 3)
	counts := map[string]int{}
	for _, name := range host.rescheduled {
		counts[name]++
	}
	require.Equal(t, 2, counts["fast"])
	require.Equal(t, 1, counts["slow"])
}
