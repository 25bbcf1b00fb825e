// Package scheduler provides the time trigger that initiates evaluation for
// contracts whose coverage window has closed.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/provider"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/system"
	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

var _ system.Service = (*AutoEvaluator)(nil)

// AutoEvaluator periodically sweeps the provider registry and triggers
// evaluation for due contracts under the administrator identity.
type AutoEvaluator struct {
	provider *provider.Provider
	log      *logger.Logger
	spec     string

	mu   sync.Mutex
	cron *cron.Cron
}

// New constructs an auto-evaluator. spec uses cron syntax, e.g. "@every 30s".
func New(p *provider.Provider, spec string, log *logger.Logger) *AutoEvaluator {
	if log == nil {
		log = logger.NewDefault("auto-evaluator")
	}
	if spec == "" {
		spec = "@every 30s"
	}
	return &AutoEvaluator{provider: p, log: log, spec: spec}
}

func (a *AutoEvaluator) Name() string { return "auto-evaluator" }

func (a *AutoEvaluator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(a.spec, a.tick); err != nil {
		return fmt.Errorf("schedule %q: %w", a.spec, err)
	}
	c.Start()
	a.cron = c
	a.log.WithField("schedule", a.spec).Info("auto-evaluator started")
	return nil
}

func (a *AutoEvaluator) Stop(ctx context.Context) error {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	a.log.Info("auto-evaluator stopped")
	return nil
}

func (a *AutoEvaluator) tick() {
	if started := a.provider.EvaluateDue(context.Background()); started > 0 {
		a.log.WithField("rounds", started).Info("scheduled evaluations dispatched")
	}
}
