// Package validator runs a ruleset against a datastore.
//
// Each rule gets its own copy of the canonical datastore and runs under a
// timeout. Its outcome is one of Done, Skipped or Failed; a failing rule
// never stops the run. Flags from Done rules are merged into a single
// results datastore, which is the only thing the run writes to.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

// Status is the state of one rule in a run.
type Status int

const (
	Pending Status = iota
	Done
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText renders the status name in JSON and CSV output.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, c := range []Status{Pending, Done, Skipped, Failed} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown rule status %q", b)
}

// ErrRuleTimeout is wrapped by RuleExecutionError when a rule overruns.
var ErrRuleTimeout = errors.New("rule timed out")

// RuleExecutionError reports a rule that returned an error, panicked or
// timed out.
type RuleExecutionError struct {
	Code  string
	Err   error
	Panic bool
}

func (e *RuleExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("rule %s panicked: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("rule %s failed: %v", e.Code, e.Err)
}

func (e *RuleExecutionError) Unwrap() error { return e.Err }

// Outcome is the result of one rule.
type Outcome struct {
	Code     string
	Status   Status
	Err      error
	Flagged  map[string]int // rows flagged per table, after merge
	Dropped  int            // positions discarded during merge
	Duration time.Duration
}

// Results is the output of a run.
type Results struct {
	Ruleset  string
	Store    *datastore.Datastore
	Outcomes []Outcome
}

// Outcome returns the outcome for a rule code.
func (r *Results) Outcome(code string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Code == code {
			return o, true
		}
	}
	return Outcome{}, false
}

// Count returns the number of rules with the given status.
func (r *Results) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// DefaultRuleTimeout bounds a single rule when no WithTimeout option is given.
const DefaultRuleTimeout = 30 * time.Second

// Validator runs the rules of one registry.
type Validator struct {
	registry *rules.Registry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// Option configures a Validator.
type Option func(*Validator)

// WithTimeout bounds each rule. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) { v.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithTracer sets the tracer used for rule spans.
func WithTracer(t trace.Tracer) Option {
	return func(v *Validator) { v.tracer = t }
}

// New returns a validator for a registry.
func New(registry *rules.Registry, opts ...Option) *Validator {
	v := &Validator{
		registry: registry,
		timeout:  DefaultRuleTimeout,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/data-to-insight/csc-validator-be-903-sub000/internal/validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run evaluates the selected rules (all when codes is empty) in code order.
// The canonical datastore is never modified. An error is returned only for
// an unknown code or a cancelled context; rule failures are recorded in the
// outcomes.
func (v *Validator) Run(ctx context.Context, ds *datastore.Datastore, codes []string) (*Results, error) {
	selected, err := v.registry.Filter(codes)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &Results{
		Ruleset:  v.registry.Version(),
		Store:    ds.Copy(),
		Outcomes: make([]Outcome, 0, len(selected)),
	}
	for _, rule := range selected {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("validation cancelled: %w", err)
		}
		res.Outcomes = append(res.Outcomes, v.runRule(ctx, rule, ds, res.Store))
	}
	v.metrics.ObserveRun(time.Since(start))

	v.logger.Info("validation run complete",
		"ruleset", res.Ruleset,
		"rules", len(selected),
		"done", res.Count(Done),
		"skipped", res.Count(Skipped),
		"failed", res.Count(Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (v *Validator) runRule(ctx context.Context, rule rules.Rule, ds, results *datastore.Datastore) Outcome {
	ctx, span := v.tracer.Start(ctx, "rule "+rule.Code, trace.WithAttributes(
		attribute.String("rule.code", rule.Code),
		attribute.String("ruleset", v.registry.Version()),
	))
	defer span.End()

	start := time.Now()
	out := Outcome{Code: rule.Code, Status: Pending}

	result, err := v.evaluate(ctx, rule, ds.Copy())
	out.Duration = time.Since(start)

	switch {
	case err != nil:
		out.Status = Failed
		out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.Warn("rule failed", "rule", rule.Code, "error", err)
	case !result.Evaluable():
		out.Status = Skipped
		v.logger.Debug("rule skipped", "rule", rule.Code)
	default:
		out.Status = Done
		out.Flagged, out.Dropped = v.merge(rule.Code, result, results)
	}

	span.SetAttributes(attribute.String("rule.status", out.Status.String()))
	v.metrics.ObserveRule(v.registry.Version(), out.Status, out.Duration)
	return out
}

type evaluation struct {
	result rules.Result
	err    error
}

// evaluate calls the rule on its own goroutine so a timeout can abandon it.
// Panics become RuleExecutionErrors.
func (v *Validator) evaluate(ctx context.Context, rule rules.Rule, cp *datastore.Datastore) (rules.Result, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	done := make(chan evaluation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				v.logger.Error("rule panicked", "rule", rule.Code, "panic", p, "stack", string(debug.Stack()))
				done <- evaluation{err: &RuleExecutionError{Code: rule.Code, Err: fmt.Errorf("%v", p), Panic: true}}
			}
		}()
		r, err := rule.Evaluate(ctx, cp)
		done <- evaluation{result: r, err: err}
	}()

	select {
	case e := <-done:
		if e.err != nil {
			if rules.IsMissingMetadata(e.err) {
				return nil, e.err
			}
			var rerr *RuleExecutionError
			if errors.As(e.err, &rerr) {
				return nil, e.err
			}
			return nil, &RuleExecutionError{Code: rule.Code, Err: e.err}
		}
		return e.result, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrRuleTimeout, v.timeout)
		}
		return nil, &RuleExecutionError{Code: rule.Code, Err: err}
	}
}

// merge sets ERR_<code> flags in the results datastore. Unknown tables and
// positions outside the table are dropped with a warning. Returns the rows
// flagged per table and the number of positions dropped.
func (v *Validator) merge(code string, result rules.Result, results *datastore.Datastore) (map[string]int, int) {
	col := datastore.FlagPrefix + code
	flagged := make(map[string]int, len(result))
	dropped := 0

	tables := make([]string, 0, len(result))
	for name := range result {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	for _, name := range tables {
		positions := result[name]
		t, ok := results.Table(name)
		if !ok {
			if len(positions) > 0 {
				v.logger.Warn("rule flagged rows in unknown table", "rule", code, "table", name, "positions", len(positions))
				v.metrics.AddDropped(name, len(positions))
				dropped += len(positions)
			}
			continue
		}

		valid := make([]int, 0, len(positions))
		for _, p := range positions {
			if t.InRange(p) {
				valid = append(valid, p)
			}
		}
		if bad := len(positions) - len(valid); bad > 0 {
			v.logger.Warn("rule returned invalid row positions", "rule", code, "table", name, "dropped", bad)
			v.metrics.AddDropped(name, bad)
			dropped += bad
		}

		slices.Sort(valid)
		valid = slices.Compact(valid)
		flagged[name] = len(valid)
		if len(valid) == 0 {
			continue
		}
		if err := t.SetFlags(col, valid); err != nil {
			// Positions were range-checked above.
			v.logger.Error("set flags", "rule", code, "table", name, "error", err)
			continue
		}
		v.metrics.AddFlagged(name, len(valid))
	}
	return flagged, dropped
}
