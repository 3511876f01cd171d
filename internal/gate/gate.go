// Package gate is the subscription wall. It revalidates a driver's paywall
// status on a fixed interval and decides, per navigation intent, whether the
// user proceeds, is redirected, or waits for the first verdict.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/observability"
)

// SubscriptionAPI is the single backend call the gate depends on.
type SubscriptionAPI interface {
	SubscriptionStatus(ctx context.Context, driverID string) (models.SubscriptionState, error)
}

type Action int

const (
	ActionAllow Action = iota
	// ActionHold keeps navigation in a neutral checking state until the
	// first verdict, so disallowed content never flashes.
	ActionHold
	ActionRedirect
)

// Decision is the gate's answer to one navigation intent.
type Decision struct {
	Action Action
	Target string // destination path when Action is ActionRedirect
}

// Options configures a Gate. Paths default to the app's screens.
type Options struct {
	API         SubscriptionAPI
	Role        models.Role
	DriverID    string
	Interval    time.Duration
	PaywallPath string
	HomePath    string
	Logger      *slog.Logger
}

type Gate struct {
	api         SubscriptionAPI
	role        models.Role
	driverID    string
	interval    time.Duration
	paywallPath string
	homePath    string
	log         *slog.Logger

	mu        sync.Mutex
	state     models.SubscriptionState
	firstDone bool
	checkedAt time.Time
	started   bool
	cancel    context.CancelFunc
	kick      chan struct{}
}

func New(opts Options) *Gate {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.PaywallPath == "" {
		opts.PaywallPath = "/subscription"
	}
	if opts.HomePath == "" {
		opts.HomePath = "/home"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate{
		api:         opts.API,
		role:        opts.Role,
		driverID:    opts.DriverID,
		interval:    opts.Interval,
		paywallPath: opts.PaywallPath,
		homePath:    opts.HomePath,
		log:         opts.Logger,
		state:       models.SubscriptionUnknown,
		kick:        make(chan struct{}, 1),
	}
}

// Start performs the immediate check and begins the recurring one. Only
// driver sessions are ever gated; for any other role Start is a no-op.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started || g.role != models.RoleDriver {
		g.mu.Unlock()
		return
	}
	g.started = true
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	go g.loop(runCtx)
}

// Close stops the recurring check. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.mu.Unlock()
}

// Decide gates one navigation intent against the last confirmed status.
func (g *Gate) Decide(path string) Decision {
	if g.role != models.RoleDriver {
		return Decision{Action: ActionAllow}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.firstDone {
		return Decision{Action: ActionHold}
	}
	if g.state == models.SubscriptionActive {
		if path == g.paywallPath {
			// A paid driver must not be stranded on the checkout screen.
			return Decision{Action: ActionRedirect, Target: g.homePath}
		}
		return Decision{Action: ActionAllow}
	}
	// Inactive and unknown gate identically: indeterminate never fails open.
	if path != g.paywallPath {
		return Decision{Action: ActionRedirect, Target: g.paywallPath}
	}
	return Decision{Action: ActionAllow}
}

// State returns the last confirmed status and when it was checked.
func (g *Gate) State() (models.SubscriptionState, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.checkedAt
}

// Hint nudges the gate to re-check ahead of schedule, typically from a
// subscriptionChanged channel event. The hint itself is never trusted as the
// new status.
func (g *Gate) Hint() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// Recheck runs a synchronous check, e.g. right after a payment flow.
func (g *Gate) Recheck(ctx context.Context) models.SubscriptionState {
	return g.check(ctx)
}

func (g *Gate) loop(ctx context.Context) {
	g.check(ctx)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.check(ctx)
		case <-g.kick:
			g.check(ctx)
		}
	}
}

func (g *Gate) check(ctx context.Context) models.SubscriptionState {
	st, err := g.api.SubscriptionStatus(ctx, g.driverID)
	g.mu.Lock()
	g.firstDone = true
	g.checkedAt = time.Now()
	if err != nil {
		// Fail closed: an unreachable paywall authority must not grant
		// access. The next tick retries.
		g.state = models.SubscriptionUnknown
		g.mu.Unlock()
		observability.SubscriptionChecks.WithLabelValues("error").Inc()
		g.log.Warn("subscription check failed", "error", err)
		return models.SubscriptionUnknown
	}
	g.state = st
	g.mu.Unlock()
	observability.SubscriptionChecks.WithLabelValues(string(st)).Inc()
	return st
}
