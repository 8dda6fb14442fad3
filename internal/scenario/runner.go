package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/perchlabs/fieldtrial"
	"github.com/perchlabs/fieldtrial/experiment"
	"github.com/perchlabs/fieldtrial/internal/enrollment"
)

// scenarioNow pins the clock so unenrollment timestamps and garbage
// collection behave identically on every run.
var scenarioNow = time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

// sequentialIDs is the fallback enrollment-id source when the scenario
// does not fix its own.
type sequentialIDs struct {
	n int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("enrollment-%d", s.n), nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh client on a throwaway database for
// isolation. The clock and the enrollment-id source are deterministic,
// so the same scenario file always produces the same result.
func Run(s *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "fieldtrial-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	var ids fieldtrial.IDSource = &sequentialIDs{}
	if len(s.EnrollmentIDs) > 0 {
		ids = enrollment.NewFixedSource(s.EnrollmentIDs...)
	}

	client, err := fieldtrial.New(fieldtrial.Config{
		DatabasePath:       filepath.Join(dir, "scenario.db"),
		AppContext:         appContext(s.App),
		RandomizationUnits: map[string]string{"client_id": s.ClientID},
	},
		fieldtrial.WithLogger(slog.New(slog.DiscardHandler)),
		fieldtrial.WithIDSource(ids),
		fieldtrial.WithNow(func() time.Time { return scenarioNow }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	ctx := context.Background()
	if err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	defer client.Close()

	result := NewResult(s.Name)
	for i, step := range s.Steps {
		events, err := executeStep(ctx, client, step)
		checkStep(result, i, step, events, err)
	}
	if s.Final != nil {
		checkFinal(result, client, s.Final)
	}

	return result, nil
}

// appContext fills the client identity, defaulting the fields scenarios
// usually leave out.
func appContext(app *AppIdentity) experiment.AppContext {
	if app == nil {
		return experiment.AppContext{AppID: "scenario-app", Channel: "release"}
	}
	return experiment.AppContext{
		AppID:      app.AppID,
		Channel:    app.Channel,
		AppVersion: app.AppVersion,
		Locale:     app.Locale,
	}
}

// executeStep dispatches one step to the client.
func executeStep(ctx context.Context, client *fieldtrial.Client, step Step) ([]experiment.ChangeEvent, error) {
	switch step.Op {
	case OpSetCatalog:
		payload, err := json.Marshal(map[string]any{"data": step.Experiments})
		if err != nil {
			return nil, fmt.Errorf("marshal catalog: %w", err)
		}
		return nil, client.SetExperimentsLocally(ctx, payload)
	case OpApply:
		return client.ApplyPendingExperiments(ctx)
	case OpSetParticipation:
		return client.SetGlobalUserParticipation(ctx, *step.Participating)
	case OpOptIn:
		return client.OptInWithBranch(ctx, step.Experiment, step.Branch)
	case OpOptOut:
		return client.OptOut(ctx, step.Experiment)
	default:
		// Unreachable after validation
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// checkStep records the step in the trace and evaluates its expectation.
func checkStep(result *Result, index int, step Step, events []experiment.ChangeEvent, err error) {
	label := fmt.Sprintf("steps[%d] (%s)", index, step.Op)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if fe, ok := fieldtrial.AsError(err); ok {
			outcome = string(fe.Code)
		}
	}
	result.AddTrace(step.Op, step.Experiment, outcome, events)

	wantErr := ""
	if step.Expect != nil {
		wantErr = step.Expect.Error
	}

	if wantErr != "" {
		if err == nil {
			result.AddError(fmt.Sprintf("%s: expected error %q, step succeeded", label, wantErr))
			return
		}
		if outcome != wantErr {
			result.AddError(fmt.Sprintf("%s: expected error %q, got: %v", label, wantErr, err))
		}
		return
	}

	if err != nil {
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
		return
	}
	if step.Expect == nil || step.Expect.Events == nil {
		return
	}
	compareEvents(result, label, step.Expect.Events, events)
}

// compareEvents checks the returned events against the expected sequence.
func compareEvents(result *Result, label string, want []Event, got []experiment.ChangeEvent) {
	if len(got) != len(want) {
		result.AddError(fmt.Sprintf("%s: expected %d events, got %d", label, len(want), len(got)))
		return
	}
	for i, w := range want {
		g := got[i]
		if w.Experiment != g.ExperimentSlug {
			result.AddError(fmt.Sprintf("%s: events[%d]: expected experiment %q, got %q", label, i, w.Experiment, g.ExperimentSlug))
		}
		if w.Branch != g.BranchSlug {
			result.AddError(fmt.Sprintf("%s: events[%d]: expected branch %q, got %q", label, i, w.Branch, g.BranchSlug))
		}
		if w.EnrollmentID != "" && w.EnrollmentID != g.EnrollmentID {
			result.AddError(fmt.Sprintf("%s: events[%d]: expected enrollment id %q, got %q", label, i, w.EnrollmentID, g.EnrollmentID))
		}
		if w.Reason != g.Reason {
			result.AddError(fmt.Sprintf("%s: events[%d]: expected reason %q, got %q", label, i, w.Reason, g.Reason))
		}
		if w.Change != string(g.Change) {
			result.AddError(fmt.Sprintf("%s: events[%d]: expected change %q, got %q", label, i, w.Change, g.Change))
		}
	}
}

// checkFinal validates the end state.
func checkFinal(result *Result, client *fieldtrial.Client, final *FinalState) {
	active, err := client.ActiveExperiments()
	if err != nil {
		result.AddError(fmt.Sprintf("final: reading active experiments: %v", err))
		return
	}

	seen := make(map[string]string, len(active))
	for _, row := range active {
		seen[row.Slug] = row.BranchSlug
	}
	for slug, branch := range final.Active {
		got, ok := seen[slug]
		if !ok {
			result.AddError(fmt.Sprintf("final: expected active enrollment in %q, found none", slug))
			continue
		}
		if got != branch {
			result.AddError(fmt.Sprintf("final: expected %q branch %q, got %q", slug, branch, got))
		}
	}
	for slug := range seen {
		if _, ok := final.Active[slug]; !ok {
			result.AddError(fmt.Sprintf("final: unexpected active enrollment in %q", slug))
		}
	}

	if final.Participating != nil {
		participating, err := client.GlobalUserParticipation()
		if err != nil {
			result.AddError(fmt.Sprintf("final: reading participation: %v", err))
			return
		}
		if participating != *final.Participating {
			result.AddError(fmt.Sprintf("final: expected participating=%t, got %t", *final.Participating, participating))
		}
	}
}
