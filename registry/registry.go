// Package registry starts and supervises the service's components in
// phases. Critical services must come up inside the startup deadline or
// the process aborts; lower phases degrade instead of failing startup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Phase orders startup. Lower phases start first.
type Phase int

// Startup phases, strongest guarantee first.
const (
	PhaseCritical Phase = iota
	PhaseHigh
	PhaseMedium
	PhaseDeferred
)

func (p Phase) String() string {
	switch p {
	case PhaseCritical:
		return "critical"
	case PhaseHigh:
		return "high"
	case PhaseMedium:
		return "medium"
	default:
		return "deferred"
	}
}

// DefaultStartupDeadline bounds the whole phased startup.
const DefaultStartupDeadline = 10 * time.Second

// ErrUnknownDependency is returned when a service depends on a name that
// was never registered.
var ErrUnknownDependency = errors.New("unknown service dependency")

// Service is one supervised component.
type Service struct {
	Name      string
	Phase     Phase
	DependsOn []string

	// Start brings the service up. Nil means nothing to do.
	Start func(ctx context.Context) error

	// Ready probes the service. Nil means always ready once started.
	Ready func(ctx context.Context) error

	// Stop shuts the service down during graceful shutdown.
	Stop func(ctx context.Context) error

	// Optional services degrade on failure instead of aborting startup.
	// Critical-phase services are never optional.
	Optional bool
}

// Status is the reported condition of one service.
type Status struct {
	Name     string
	Phase    Phase
	Started  bool
	Degraded bool
	Err      error
}

// Registry runs registered services through phased startup and tracks
// their condition for readiness reporting.
type Registry struct {
	logger   *slog.Logger
	deadline time.Duration

	mu       sync.Mutex
	services []*Service
	statuses map[string]*Status
	started  []*Service // successful starts, in order
}

// New creates an empty registry. A zero deadline uses the default.
func New(logger *slog.Logger, deadline time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if deadline <= 0 {
		deadline = DefaultStartupDeadline
	}
	return &Registry{
		logger:   logger,
		deadline: deadline,
		statuses: make(map[string]*Status),
	}
}

// Register adds a service. Must be called before Start.
func (r *Registry) Register(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := svc
	r.services = append(r.services, &s)
	r.statuses[s.Name] = &Status{Name: s.Name, Phase: s.Phase}
}

// Start brings every registered service up, phase by phase, honoring the
// declared dependencies inside each phase. A critical or non-optional
// failure aborts with an error; optional failures mark the service
// degraded and continue.
func (r *Registry) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	r.mu.Lock()
	services := append([]*Service(nil), r.services...)
	r.mu.Unlock()

	for phase := PhaseCritical; phase <= PhaseDeferred; phase++ {
		ordered, err := r.order(services, phase)
		if err != nil {
			return err
		}
		for _, svc := range ordered {
			if err := r.startOne(ctx, svc); err != nil {
				if svc.Optional && svc.Phase != PhaseCritical {
					r.degrade(svc, err)
					continue
				}
				return fmt.Errorf("start %s (%s phase): %w", svc.Name, svc.Phase, err)
			}
		}
	}
	return nil
}

func (r *Registry) startOne(ctx context.Context, svc *Service) error {
	start := time.Now()
	if svc.Start != nil {
		if err := svc.Start(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.statuses[svc.Name].Started = true
	r.started = append(r.started, svc)
	r.mu.Unlock()
	r.logger.Info("service started",
		"service", svc.Name, "phase", svc.Phase.String(), "took", time.Since(start))
	return nil
}

func (r *Registry) degrade(svc *Service, err error) {
	r.mu.Lock()
	status := r.statuses[svc.Name]
	status.Degraded = true
	status.Err = err
	r.mu.Unlock()
	r.logger.Warn("optional service degraded",
		"service", svc.Name, "phase", svc.Phase.String(), "error", err)
}

// order returns the phase's services topologically sorted by DependsOn.
// Dependencies in earlier phases are considered satisfied.
func (r *Registry) order(services []*Service, phase Phase) ([]*Service, error) {
	inPhase := make(map[string]*Service)
	var names []string
	for _, svc := range services {
		if svc.Phase == phase {
			inPhase[svc.Name] = svc
			names = append(names, svc.Name)
		}
	}
	known := make(map[string]bool, len(services))
	for _, svc := range services {
		known[svc.Name] = true
	}

	var ordered []*Service
	state := make(map[string]int) // 0 unseen, 1 visiting, 2 done
	var visit func(name string) error
	visit = func(name string) error {
		svc, ok := inPhase[name]
		if !ok {
			return nil // earlier phase or not in this one
		}
		switch state[name] {
		case 1:
			return fmt.Errorf("dependency cycle through %q", name)
		case 2:
			return nil
		}
		state[name] = 1
		for _, dep := range svc.DependsOn {
			if !known[dep] {
				return fmt.Errorf("%w: %q needs %q", ErrUnknownDependency, name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = 2
		ordered = append(ordered, svc)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Stop shuts started services down in reverse start order. Errors are
// logged, not returned; shutdown always proceeds.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	started := append([]*Service(nil), r.started...)
	r.started = nil
	r.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if svc.Stop == nil {
			continue
		}
		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("service stop failed", "service", svc.Name, "error", err)
		} else {
			r.logger.Info("service stopped", "service", svc.Name)
		}
	}
}

// Ready probes every started, non-degraded service and returns an error
// naming the first unhealthy one. Degraded optional services do not fail
// readiness.
func (r *Registry) Ready(ctx context.Context) error {
	r.mu.Lock()
	started := append([]*Service(nil), r.started...)
	statuses := make(map[string]Status, len(r.statuses))
	for name, status := range r.statuses {
		statuses[name] = *status
	}
	r.mu.Unlock()

	for _, svc := range started {
		if statuses[svc.Name].Degraded || svc.Ready == nil {
			continue
		}
		if err := svc.Ready(ctx); err != nil {
			return fmt.Errorf("service %s not ready: %w", svc.Name, err)
		}
	}
	return nil
}

// Report returns the current status of every registered service.
func (r *Registry) Report() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, *r.statuses[svc.Name])
	}
	return out
}
