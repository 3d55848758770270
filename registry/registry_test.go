package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartRespectsPhasesAndDependencies(t *testing.T) {
	r := New(testLogger(), time.Second)
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	// Registered deliberately out of order.
	r.Register(Service{Name: "http", Phase: PhaseHigh, DependsOn: []string{"engine"}, Start: record("http")})
	r.Register(Service{Name: "engine", Phase: PhaseHigh, DependsOn: []string{"store"}, Start: record("engine")})
	r.Register(Service{Name: "pruner", Phase: PhaseDeferred, Start: record("pruner")})
	r.Register(Service{Name: "store", Phase: PhaseCritical, Start: record("store")})

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, []string{"store", "engine", "http", "pruner"}, order)
}

func TestCriticalFailureAborts(t *testing.T) {
	r := New(testLogger(), time.Second)
	boom := errors.New("no database")
	r.Register(Service{Name: "store", Phase: PhaseCritical, Optional: true,
		Start: func(context.Context) error { return boom }})

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestOptionalFailureDegrades(t *testing.T) {
	r := New(testLogger(), time.Second)
	r.Register(Service{Name: "store", Phase: PhaseCritical, Start: func(context.Context) error { return nil }})
	r.Register(Service{Name: "rag", Phase: PhaseMedium, Optional: true,
		Start: func(context.Context) error { return errors.New("rag backend down") }})

	require.NoError(t, r.Start(context.Background()))

	var ragStatus Status
	for _, status := range r.Report() {
		if status.Name == "rag" {
			ragStatus = status
		}
	}
	assert.True(t, ragStatus.Degraded)
	assert.Error(t, ragStatus.Err)
	assert.NoError(t, r.Ready(context.Background()), "degraded optional service must not fail readiness")
}

func TestUnknownDependencyRejected(t *testing.T) {
	r := New(testLogger(), time.Second)
	r.Register(Service{Name: "engine", Phase: PhaseHigh, DependsOn: []string{"ghost"}})

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestDependencyCycleRejected(t *testing.T) {
	r := New(testLogger(), time.Second)
	r.Register(Service{Name: "a", Phase: PhaseHigh, DependsOn: []string{"b"}})
	r.Register(Service{Name: "b", Phase: PhaseHigh, DependsOn: []string{"a"}})

	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestStopRunsInReverseOrder(t *testing.T) {
	r := New(testLogger(), time.Second)
	var stops []string
	stop := func(name string) func(context.Context) error {
		return func(context.Context) error {
			stops = append(stops, name)
			return nil
		}
	}
	r.Register(Service{Name: "store", Phase: PhaseCritical, Stop: stop("store")})
	r.Register(Service{Name: "http", Phase: PhaseHigh, Stop: stop("http")})

	require.NoError(t, r.Start(context.Background()))
	r.Stop(context.Background())
	assert.Equal(t, []string{"http", "store"}, stops)
}

func TestReadyReportsUnhealthyService(t *testing.T) {
	r := New(testLogger(), time.Second)
	r.Register(Service{Name: "store", Phase: PhaseCritical,
		Ready: func(context.Context) error { return errors.New("ping failed") }})

	require.NoError(t, r.Start(context.Background()))
	err := r.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestStartupDeadlineEnforced(t *testing.T) {
	r := New(testLogger(), 20*time.Millisecond)
	r.Register(Service{Name: "slow", Phase: PhaseCritical,
		Start: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		}})

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
