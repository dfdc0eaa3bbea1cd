// Package runner replays a prompt fixture through every guardrail in the
// catalog and tallies how often each one intervened.
package runner

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/guardrailwatch/internal/catalog"
	"github.com/gzhole/guardrailwatch/internal/guardrail"
)

// Conversor sends one prompt with one guardrail attached.
type Conversor interface {
	Converse(ctx context.Context, guardrailID, prompt string) guardrail.Outcome
}

// ResultSink receives every result as soon as it is classified.
type ResultSink interface {
	Record(r Result) error
}

// Result is the classification of a single prompt.
type Result struct {
	Prompt      string
	Guardrail   string
	GuardrailID string
	Output      string
	Action      string
	StopReason  string
	Intervened  bool
	Failed      bool
	Err         error
}

type PolicySummary struct {
	Name          string
	ID            string
	Results       []Result
	Interventions int
	Failed        int
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (p *PolicySummary) Total() int { return len(p.Results) }

// Summary accumulates counters across the whole run.
type Summary struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Total         int
	Interventions int
	Failed        int
	Policies      []*PolicySummary
	// Skipped lists fixture guardrails with no identifier in the catalog.
	Skipped []string
}

type Options struct {
	// Delay is the fixed pause between consecutive requests.
	Delay  time.Duration
	Out    io.Writer
	Logger *zap.Logger
	Sink   ResultSink
	// Icons decorates per-prompt lines; only worth it on a terminal.
	Icons bool
}

type Runner struct {
	conv    Conversor
	catalog *catalog.Catalog
	opts    Options
	report  *Reporter
	log     *zap.Logger
	now     func() time.Time
	sent    int
}

func New(conv Conversor, cat *catalog.Catalog, opts Options) *Runner {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		conv:    conv,
		catalog: cat,
		opts:    opts,
		report:  NewReporter(opts.Out, opts.Icons),
		log:     opts.Logger,
		now:     time.Now,
	}
}

// Run processes every case of f in order and prints the per-guardrail and
// overall reports. It returns early only when ctx is cancelled, with the
// partial summary.
func (r *Runner) Run(ctx context.Context, f *catalog.Fixture) (*Summary, error) {
	sum := &Summary{StartedAt: r.now()}
	r.sent = 0

	for _, tc := range f.Cases {
		id, ok := r.catalog.Lookup(tc.Guardrail)
		if !ok {
			r.log.Warn("guardrail missing from catalog, skipping", zap.String("guardrail", tc.Guardrail))
			r.report.Skipped(tc.Guardrail)
			sum.Skipped = append(sum.Skipped, tc.Guardrail)
			continue
		}

		ps := &PolicySummary{Name: tc.Guardrail, ID: id, StartedAt: r.now()}
		sum.Policies = append(sum.Policies, ps)
		r.report.PolicyStart(ps)

		for _, prompt := range tc.Inputs {
			if err := r.pace(ctx); err != nil {
				return r.finish(sum), err
			}

			r.report.Prompt(prompt)
			outcome := r.conv.Converse(ctx, id, prompt)
			if f, ok := outcome.(guardrail.Failed); ok && f.Kind == guardrail.FailureCanceled && ctx.Err() != nil {
				ps.FinishedAt = r.now()
				return r.finish(sum), ctx.Err()
			}

			res := newResult(tc.Guardrail, id, prompt, outcome)
			r.report.Result(res)

			ps.Results = append(ps.Results, res)
			sum.Total++
			switch {
			case res.Failed:
				ps.Failed++
				sum.Failed++
			case res.Intervened:
				ps.Interventions++
				sum.Interventions++
			}

			if r.opts.Sink != nil {
				if err := r.opts.Sink.Record(res); err != nil {
					r.log.Warn("failed to record result", zap.Error(err))
				}
			}
		}

		ps.FinishedAt = r.now()
		r.report.PolicySummary(ps)
		r.log.Debug("guardrail finished",
			zap.String("guardrail", ps.Name),
			zap.Int("total", ps.Total()),
			zap.Int("interventions", ps.Interventions),
			zap.Duration("elapsed", ps.FinishedAt.Sub(ps.StartedAt)),
		)
	}

	r.finish(sum)
	r.report.Overall(sum)
	return sum, nil
}

func (r *Runner) finish(sum *Summary) *Summary {
	sum.FinishedAt = r.now()
	return sum
}

// pace sleeps for the configured delay before every request but the first.
func (r *Runner) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.sent++
	if r.sent == 1 || r.opts.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(r.opts.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newResult(name, id, prompt string, o guardrail.Outcome) Result {
	res := Result{Prompt: prompt, Guardrail: name, GuardrailID: id}
	switch v := o.(type) {
	case guardrail.Success:
		res.Output = v.Text
		res.Action = v.Action
		res.StopReason = v.StopReason
		res.Intervened = guardrail.Classify(v)
	case guardrail.Failed:
		res.Output = guardrail.FailedOutputText
		res.Action = guardrail.NoAction
		res.Failed = true
		res.Err = v
	default:
		res.Output = guardrail.NoOutputText
		res.Action = guardrail.NoAction
	}
	return res
}
