// Package health implements the composite readiness probe (C8) shared by
// every binary: ping the durable store, round-trip the cache, check the
// broker channel, and read each circuit breaker's state without tripping it.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/platform/internal/breaker"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
)

// Status is one dependency's or the aggregate's health classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Dependency is the health result for one probed collaborator.
type Dependency struct {
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency,omitempty"`
	Breaker string        `json:"breaker,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Report is the full aggregator response.
type Report struct {
	Status       Status                `json:"status"`
	Dependencies map[string]Dependency `json:"dependencies"`
}

// StorePinger probes the durable store with a trivial query. Satisfied by
// *postgres.PostgresPool's Health method.
type StorePinger interface {
	Health(ctx context.Context) error
}

// BrokerPinger reports whether the broker connection/channel is usable.
type BrokerPinger interface {
	Healthy() bool
}

// Aggregator composes the store, cache, broker, and breaker probes into a
// single roll-up per §4.8. Breaker reads use raw state lookups so the
// health check itself never trips (or is short-circuited by) a breaker.
type Aggregator struct {
	store    StorePinger
	cache    cache.Cache
	broker   BrokerPinger
	breakers map[string]*breaker.Breaker
}

// New wires an Aggregator. breakers maps a resource name ("db", "cache",
// "smtp", "fcm", ...) to the shared breaker guarding calls to it.
func New(store StorePinger, c cache.Cache, b BrokerPinger, breakers map[string]*breaker.Breaker) *Aggregator {
	return &Aggregator{store: store, cache: c, broker: b, breakers: breakers}
}

// Check runs every probe and rolls the results up: any "down" dependency
// makes the aggregate "down"; any "degraded" makes it "degraded"; otherwise
// "healthy".
func (a *Aggregator) Check(ctx context.Context) Report {
	deps := map[string]Dependency{}

	deps["store"] = a.checkStore(ctx)
	deps["cache"] = a.checkCache(ctx)
	if a.broker != nil {
		deps["broker"] = a.checkBroker()
	}
	for name, br := range a.breakers {
		deps["breaker:"+name] = a.checkBreaker(ctx, name, br)
	}

	return Report{Status: rollup(deps), Dependencies: deps}
}

func (a *Aggregator) checkStore(ctx context.Context) Dependency {
	if a.store == nil {
		return Dependency{Status: StatusDown, Error: "store not configured"}
	}
	start := time.Now()
	err := a.store.Health(ctx)
	latency := time.Since(start)
	if err != nil {
		return Dependency{Status: StatusDown, Latency: latency, Error: err.Error()}
	}
	return Dependency{Status: StatusHealthy, Latency: latency}
}

func (a *Aggregator) checkCache(ctx context.Context) Dependency {
	if a.cache == nil {
		return Dependency{Status: StatusDown, Error: "cache not configured"}
	}

	start := time.Now()
	const probeKey = "health:probe"
	probeValue := fmt.Sprintf("%d", time.Now().UnixNano())

	if err := a.cache.Set(ctx, probeKey, probeValue, 10*time.Second); err != nil {
		return Dependency{Status: StatusDown, Latency: time.Since(start), Error: err.Error()}
	}

	var readBack string
	if err := a.cache.Get(ctx, probeKey, &readBack); err != nil {
		return Dependency{Status: StatusDegraded, Latency: time.Since(start), Error: err.Error()}
	}
	latency := time.Since(start)

	if readBack != probeValue {
		return Dependency{Status: StatusDegraded, Latency: latency, Error: "round-trip mismatch"}
	}
	return Dependency{Status: StatusHealthy, Latency: latency}
}

func (a *Aggregator) checkBroker() Dependency {
	if a.broker.Healthy() {
		return Dependency{Status: StatusHealthy}
	}
	return Dependency{Status: StatusDown, Error: "broker channel not open"}
}

func (a *Aggregator) checkBreaker(ctx context.Context, name string, br *breaker.Breaker) Dependency {
	state, err := br.State(ctx)
	if err != nil {
		return Dependency{Status: StatusDegraded, Breaker: string(state), Error: err.Error()}
	}
	switch state {
	case breaker.StateOpen:
		return Dependency{Status: StatusDown, Breaker: string(state)}
	case breaker.StateHalfOpen:
		return Dependency{Status: StatusDegraded, Breaker: string(state)}
	default:
		return Dependency{Status: StatusHealthy, Breaker: string(state)}
	}
}

func rollup(deps map[string]Dependency) Status {
	status := StatusHealthy
	for _, d := range deps {
		switch d.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// HTTPStatusFor maps the aggregate status to a response code: 200 for
// healthy/degraded, 503 for down.
func HTTPStatusFor(s Status) int {
	if s == StatusDown {
		return 503
	}
	return 200
}
