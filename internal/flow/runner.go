package flow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/resolver"
)

// Result holds the values saved by a flow's steps.
type Result struct {
	Flow    string            `json:"flow"`
	Outputs map[string]string `json:"outputs"`
}

// Runner executes flows.
type Runner struct {
	logger      *zap.Logger
	stepTimeout time.Duration
}

// NewRunner returns a runner. A positive stepTimeout bounds every step;
// otherwise steps wait as long as ctx allows.
func NewRunner(logger *zap.Logger, stepTimeout time.Duration) *Runner {
	return &Runner{logger: logger.Named("flow"), stepTimeout: stepTimeout}
}

// Run executes f's steps in order starting from root. It stops at the first
// failing step and returns what was saved up to that point along with the
// error.
func (r *Runner) Run(ctx context.Context, root *resolver.Resolver, f *Flow) (*Result, error) {
	res := &Result{Flow: f.Name, Outputs: make(map[string]string)}
	if err := f.Validate(); err != nil {
		return res, err
	}

	log := r.logger.With(zap.String("flow", f.Name))
	current := root
	for i, step := range f.Steps {
		kind := step.Kind()
		start := time.Now()
		next, err := r.step(ctx, current, step, res.Outputs)
		if err != nil {
			log.Warn("Step failed.", zap.Int("step", i), zap.String("kind", kind), zap.Error(err))
			return res, fmt.Errorf("flow %q: step %d (%s): %w", f.Name, i, kind, err)
		}
		current = next
		log.Debug("Step done.", zap.Int("step", i), zap.String("kind", kind), zap.Duration("took", time.Since(start)))
	}
	log.Info("Flow finished.", zap.Int("steps", len(f.Steps)), zap.Int("outputs", len(res.Outputs)))
	return res, nil
}

// step runs one step and returns the resolver the next step starts from.
func (r *Runner) step(ctx context.Context, cur *resolver.Resolver, s Step, out map[string]string) (*resolver.Resolver, error) {
	if r.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stepTimeout)
		defer cancel()
	}

	switch {
	case s.Frame != nil:
		return cur.EnterFrame(ctx, s.Frame.Item())
	case s.Top:
		return cur.Root(), nil
	case s.Click != nil:
		return cur.Click(ctx, s.Click.Item())
	case s.Type != nil:
		return cur, cur.Type(ctx, s.Type.Target.Item(), s.Type.Text)
	case s.Attribute != nil:
		v, err := cur.AttributeValue(ctx, s.Attribute.Target.Item(), s.Attribute.Name)
		if err != nil {
			return nil, err
		}
		save(out, s.Attribute.Save, v)
	case s.HTML != nil:
		markup, err := cur.OuterHTML(ctx, s.HTML.Target.Item())
		if err != nil {
			return nil, err
		}
		save(out, s.HTML.Save, markup)
	case s.WaitNetworkIdle != nil:
		return cur, cur.WaitNetworkIdle(ctx, time.Duration(*s.WaitNetworkIdle))
	}
	return cur, nil
}

func save(out map[string]string, key, value string) {
	if key != "" {
		out[key] = value
	}
}
