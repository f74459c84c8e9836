package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/hvcflow/internal/artifact"
	"github.com/roach88/hvcflow/internal/locate"
	"github.com/roach88/hvcflow/internal/rewrite"
	"github.com/roach88/hvcflow/internal/stage"
	"github.com/roach88/hvcflow/internal/store"
	"github.com/roach88/hvcflow/internal/validate"
)

// Ledger records workflow and stage runs. Implemented by *store.Store.
type Ledger interface {
	BeginRun(ctx context.Context, run store.WorkflowRun) error
	WriteStageRun(ctx context.Context, r store.StageRun) error
	FinishRun(ctx context.Context, id, status string, passed, failed int) error
}

// Runner executes workflows: each scenario materializes its extract config,
// runs the extract stage, validates the output, then runs and validates each
// select config against the extracted summary feature file.
//
// Execution is strictly sequential. Every stage call blocks until the stage
// returns or ctx is cancelled.
type Runner struct {
	Extract   stage.Stage
	Select    stage.Stage
	Validator *validate.Validator

	// Ledger is optional; nil disables recording.
	Ledger Ledger
	Tokens TokenGenerator
	Clock  Sequencer
	Logger *slog.Logger

	// WorkDir receives materialized configs. Empty means next to each
	// template.
	WorkDir string
}

// ledgerError marks a failed ledger write, which aborts the whole run.
type ledgerError struct{ err error }

func (e *ledgerError) Error() string { return "run ledger: " + e.err.Error() }
func (e *ledgerError) Unwrap() error { return e.err }

// Run executes wf against outputRoot, creating it if needed.
//
// Scenario failures are reported in the Result and do not make Run return an
// error. The error return is reserved for faults that stop the whole run: a
// cancelled context, an unusable output root or a failed ledger write. The
// partial Result is returned alongside such an error.
func (r *Runner) Run(ctx context.Context, wf *Workflow, outputRoot string) (result *Result, err error) {
	if r.Extract == nil || r.Select == nil {
		return nil, fmt.Errorf("runner needs both an extract and a select stage")
	}
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	if abs, err := filepath.Abs(outputRoot); err == nil {
		outputRoot = abs
	}

	runID := r.tokens().Generate()
	result = NewResult(wf.Name, runID)
	log := r.logger().With("workflow", wf.Name, "run", runID)

	if r.Ledger != nil {
		berr := r.Ledger.BeginRun(ctx, store.WorkflowRun{
			ID:         runID,
			Workflow:   wf.Name,
			OutputRoot: outputRoot,
			Seq:        r.clock().Next(),
		})
		if berr != nil {
			return nil, &ledgerError{berr}
		}
		defer func() {
			if err != nil {
				r.abandon(ctx, log, result, err)
			}
		}()
	}

	log.Info("workflow started", "scenarios", len(wf.Scenarios), "output_root", outputRoot)

	for i, sc := range wf.Scenarios {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		sr, err := r.runScenario(ctx, wf, sc, runID, outputRoot)
		if err != nil {
			result.Add(sr)
			return result, err
		}
		result.Add(sr)

		if !sr.Pass && wf.FailFast {
			for _, rest := range wf.Scenarios[i+1:] {
				result.Add(ScenarioResult{Name: rest.Name, Skipped: true})
			}
			log.Warn("stopping after failed scenario", "scenario", sc.Name)
			break
		}
	}

	passed, failed := result.Counts()
	if r.Ledger != nil {
		status := store.StatusPassed
		if !result.Pass {
			status = store.StatusFailed
		}
		if err := r.Ledger.FinishRun(ctx, runID, status, passed, failed); err != nil {
			return result, &ledgerError{err}
		}
	}

	log.Info("workflow finished", "pass", result.Pass, "passed", passed, "failed", failed)
	return result, nil
}

// abandon closes the ledger row of a run that stopped early, so it is not
// left as running.
func (r *Runner) abandon(ctx context.Context, log *slog.Logger, result *Result, cause error) {
	status := store.StatusFailed
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		status = store.StatusInterrupted
	}
	passed, failed := result.Counts()
	if err := r.Ledger.FinishRun(context.WithoutCancel(ctx), result.RunID, status, passed, failed); err != nil {
		log.Error("failed to close run ledger entry", "status", status, "error", err)
	}
}

// scenarioRun carries per-scenario state through its stages.
type scenarioRun struct {
	wf         *Workflow
	sc         Scenario
	runID      string
	outputRoot string
	log        *slog.Logger
}

// runScenario returns a non-nil error only for faults that must stop the
// workflow; ordinary failures are recorded in the ScenarioResult.
func (r *Runner) runScenario(ctx context.Context, wf *Workflow, sc Scenario, runID, outputRoot string) (ScenarioResult, error) {
	sr := ScenarioResult{Name: sc.Name}
	run := &scenarioRun{
		wf:         wf,
		sc:         sc,
		runID:      runID,
		outputRoot: outputRoot,
		log:        r.logger().With("scenario", sc.Name),
	}

	err := r.scenario(ctx, run, &sr)
	if err == nil {
		sr.Pass = true
		run.log.Info("scenario passed", "selects", len(sr.Selects))
		return sr, nil
	}

	sr.Failure = classify(err)
	sr.Error = err.Error()
	run.log.Error("scenario failed", "failure", sr.Failure, "error", err)

	var le *ledgerError
	if errors.As(err, &le) {
		return sr, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sr, ctxErr
	}
	return sr, nil
}

func (r *Runner) scenario(ctx context.Context, run *scenarioRun, sr *ScenarioResult) error {
	extractSubs := []rewrite.Substitution{
		{Match: MatchOutputDir, Placeholder: run.wf.Placeholders.OutputDir, Value: run.outputRoot},
	}

	var summaryFile string
	res, err := r.runStage(ctx, run, stage.KindExtract, run.sc.Extract, extractSubs,
		func(_ string, dir string) (any, error) {
			report, err := r.validator().Extraction(dir)
			if err != nil {
				return nil, err
			}
			summaryFile = report.SummaryFile
			return report, nil
		})
	sr.Extract = res
	if err != nil {
		return err
	}

	for _, tmpl := range run.sc.Selections(run.wf.Order) {
		subs := []rewrite.Substitution{
			{Match: MatchFeatureFile, Placeholder: run.wf.Placeholders.FeatureFile, Value: summaryFile},
			{Match: MatchOutputDir, Placeholder: run.wf.Placeholders.OutputDir, Value: run.outputRoot},
		}
		res, err := r.runStage(ctx, run, stage.KindSelect, tmpl, subs,
			func(configPath, dir string) (any, error) {
				return r.validator().Selection(ctx, configPath, dir)
			})
		if res != nil {
			sr.Selects = append(sr.Selects, *res)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkFunc validates a stage's output directory given the materialized
// config the stage consumed.
type checkFunc func(configPath, dir string) (any, error)

// runStage materializes template, invokes the stage, locates its output and
// validates it. The materialized config is removed before returning, on
// every path.
func (r *Runner) runStage(ctx context.Context, run *scenarioRun, kind stage.Kind, template string, subs []rewrite.Substitution, check checkFunc) (res *StageResult, err error) {
	res = &StageResult{Kind: kind, Template: filepath.Base(template)}
	log := run.log.With("stage", kind, "template", res.Template)

	m, err := rewrite.Materialize(template, r.WorkDir, subs, rewrite.StrictIf(run.wf.StrictPlaceholders))
	if err != nil {
		return res, fmt.Errorf("materialize %s config: %w", kind, err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			log.Warn("failed to remove materialized config", "path", m.Path, "error", cerr)
		}
	}()

	for _, s := range m.Report.Unmatched(subs) {
		res.Unmatched = append(res.Unmatched, s.Match)
		log.Warn("placeholder not substituted", "match", s.Match, "placeholder", s.Placeholder)
	}

	if run.wf.Correlate == CorrelateToken {
		res.Token = r.tokens().Generate()
	}
	seq := r.clock().Next()
	started := time.Now()

	log.Debug("invoking stage", "config", m.Path, "token", res.Token)
	err = r.stageFor(kind).Run(ctx, stage.Invocation{
		Kind:       kind,
		ConfigPath: m.Path,
		OutputRoot: run.outputRoot,
		RunToken:   res.Token,
	})
	if err != nil {
		var se *stage.Error
		if !errors.As(err, &se) {
			err = &stage.Error{Kind: kind, Config: m.Path, Err: err}
		}
	}

	if err == nil {
		res.OutputDir, err = r.locate(run, kind, res.Token)
	}

	if err == nil {
		var report any
		report, err = check(m.Path, res.OutputDir)
		switch v := report.(type) {
		case *validate.ExtractionReport:
			res.Extraction = v
		case *validate.SelectionReport:
			res.Selection = v
		}
	}

	if lerr := r.record(ctx, run, kind, m.Path, res, seq, started, err); lerr != nil {
		return res, lerr
	}
	if err == nil {
		log.Debug("stage output valid", "dir", res.OutputDir, "duration", time.Since(started))
	}
	return res, err
}

func (r *Runner) locate(run *scenarioRun, kind stage.Kind, token string) (string, error) {
	if run.wf.Correlate == CorrelateToken {
		return locate.ByToken(run.outputRoot, kind.Marker(), token)
	}
	return locate.Latest(run.outputRoot, kind.Marker())
}

func (r *Runner) record(ctx context.Context, run *scenarioRun, kind stage.Kind, configPath string, res *StageResult, seq int64, started time.Time, stageErr error) error {
	if r.Ledger == nil {
		return nil
	}
	rec := store.StageRun{
		ID:         fmt.Sprintf("%s-%06d", run.runID, seq),
		RunID:      run.runID,
		Seq:        seq,
		Scenario:   run.sc.Name,
		Stage:      string(kind),
		ConfigPath: filepath.Base(configPath),
		OutputDir:  res.OutputDir,
		Status:     store.StatusPassed,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if stageErr != nil {
		rec.Status = store.StatusFailed
		rec.Error = stageErr.Error()
	}
	// Record even when ctx is cancelled so the failure is visible in history.
	if err := r.Ledger.WriteStageRun(context.WithoutCancel(ctx), rec); err != nil {
		return &ledgerError{err}
	}
	return nil
}

func (r *Runner) stageFor(kind stage.Kind) stage.Stage {
	if kind == stage.KindExtract {
		return r.Extract
	}
	return r.Select
}

func (r *Runner) validator() *validate.Validator {
	if r.Validator == nil {
		r.Validator = validate.New()
	}
	return r.Validator
}

func (r *Runner) tokens() TokenGenerator {
	if r.Tokens == nil {
		r.Tokens = UUIDv7Generator{}
	}
	return r.Tokens
}

func (r *Runner) clock() Sequencer {
	if r.Clock == nil {
		r.Clock = NewClock()
	}
	return r.Clock
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// classify names the kind of error that aborted a scenario.
func classify(err error) string {
	var ie *validate.InvariantError
	var de *validate.DiscoveryError
	var se *stage.Error
	var ae *locate.AmbiguousError
	var le *artifact.LoadError
	switch {
	case errors.As(err, &ie):
		return "invariant:" + ie.Check
	case errors.As(err, &de):
		return "discovery:" + de.Pattern
	case errors.As(err, &se):
		return "stage:" + string(se.Kind)
	case errors.Is(err, locate.ErrNotFound), errors.As(err, &ae):
		return "locate"
	case errors.Is(err, rewrite.ErrUnmatched):
		return "placeholder"
	case errors.As(err, &le):
		return "load"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
