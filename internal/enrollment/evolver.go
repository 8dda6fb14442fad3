package enrollment

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/perchlabs/fieldtrial/experiment"
	"github.com/perchlabs/fieldtrial/internal/bucket"
	"github.com/perchlabs/fieldtrial/internal/targeting"
)

// previousEnrollmentsGCTime is how long was-enrolled records are retained
// after their experiment left the catalog.
const previousEnrollmentsGCTime = 30 * 24 * time.Hour

// UnknownBranchError reports an opt-in against a branch the experiment
// does not declare.
type UnknownBranchError struct {
	Slug   string
	Branch string
}

func (e *UnknownBranchError) Error() string {
	return fmt.Sprintf("experiment %q has no branch %q", e.Slug, e.Branch)
}

// Config carries the device-side inputs enrollment decisions depend on.
type Config struct {
	// Evaluator runs targeting expressions. Defaults to the expr engine.
	Evaluator targeting.Evaluator

	// IDs mints enrollment identifiers. Defaults to UUIDSource.
	IDs IDSource

	// Units maps randomization unit names to this device's values
	// (e.g. "client_id" -> the installation id).
	Units map[string]string

	// Context is the application identity targeting runs against.
	Context experiment.AppContext

	// Logger receives containment diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Now is the clock used for was-enrolled timestamps and garbage
	// collection. Defaults to time.Now.
	Now func() time.Time
}

// Evolver computes enrollment transitions. It holds no mutable state and
// is safe for concurrent use.
type Evolver struct {
	evaluator targeting.Evaluator
	ids       IDSource
	units     map[string]string
	appCtx    experiment.AppContext
	attrs     map[string]any
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an evolver from cfg, filling unset fields with production
// defaults.
func New(cfg Config) *Evolver {
	if cfg.Evaluator == nil {
		// The empty engine name selects the default evaluator
		cfg.Evaluator, _ = targeting.New("")
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDSource{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Evolver{
		evaluator: cfg.Evaluator,
		ids:       cfg.IDs,
		units:     cfg.Units,
		appCtx:    cfg.Context,
		attrs:     cfg.Context.TargetingAttributes(),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Evolve computes the next enrollment snapshot from the previously applied
// experiments, the updated experiments, and the stored records.
//
// It visits the union of previous, updated, and recorded slugs in
// ascending order, so the returned events are deterministic for given
// inputs. Per-experiment failures are contained: they are logged, the
// previous record (if any) is kept, and the rest of the batch still
// evolves.
func (e *Evolver) Evolve(
	participating bool,
	previous, updated []experiment.Experiment,
	records map[string]experiment.EnrollmentRecord,
) (map[string]experiment.EnrollmentRecord, []experiment.ChangeEvent) {
	previousBySlug := mapExperiments(previous)
	updatedBySlug := mapExperiments(updated)

	slugSet := make(map[string]bool, len(updatedBySlug)+len(records))
	for slug := range previousBySlug {
		slugSet[slug] = true
	}
	for slug := range updatedBySlug {
		slugSet[slug] = true
	}
	for slug := range records {
		slugSet[slug] = true
	}
	slugs := make([]string, 0, len(slugSet))
	for slug := range slugSet {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	next := make(map[string]experiment.EnrollmentRecord, len(slugs))
	var events []experiment.ChangeEvent
	for _, slug := range slugs {
		_, hadExp := previousBySlug[slug]
		exp, hasExp := updatedBySlug[slug]
		record, hadRecord := records[slug]

		var (
			out  experiment.EnrollmentRecord
			keep bool
			evs  []experiment.ChangeEvent
		)
		switch {
		case !hadExp && hasExp && !hadRecord:
			// New experiment
			out, keep, evs = e.newExperiment(participating, exp)
		case hadExp && !hasExp && hadRecord:
			// Experiment deleted remotely
			out, keep, evs = e.endedExperiment(record)
		case hadExp && hasExp && hadRecord:
			// Known experiment
			out, keep, evs = e.updatedExperiment(participating, exp, record)
		case !hadExp && !hasExp && hadRecord:
			// Orphan record, experiment gone from both lists
			out, keep = e.garbageCollect(record)
		case !hadExp && hasExp && hadRecord:
			e.logger.Error("enrollment record already exists for new experiment",
				"slug", slug, "status", record.Status)
			out, keep = record, true
		case hadExp && !hadRecord:
			// Covers the vanished and still-present cases alike; an applied
			// experiment should always have left a record behind
			e.logger.Error("experiment had no enrollment record", "slug", slug)
		}
		if keep {
			next[slug] = out
		}
		events = append(events, evs...)
	}

	return next, events
}

// newExperiment evaluates an experiment seen for the first time.
func (e *Evolver) newExperiment(participating bool, exp experiment.Experiment) (experiment.EnrollmentRecord, bool, []experiment.ChangeEvent) {
	if !participating {
		return experiment.NewNotEnrolled(exp.Slug, experiment.ReasonOptOut), true, nil
	}
	if exp.IsEnrollmentPaused {
		return experiment.NewNotEnrolled(exp.Slug, experiment.ReasonEnrollmentsPaused), true, nil
	}

	record, ok := e.evaluate(exp)
	if !ok {
		return experiment.EnrollmentRecord{}, false, nil
	}
	if record.IsEnrolled() {
		event, _ := record.ChangeEvent()
		return record, true, []experiment.ChangeEvent{event}
	}
	return record, true, nil
}

// updatedExperiment transitions an existing record against the updated
// definition of its experiment.
func (e *Evolver) updatedExperiment(participating bool, exp experiment.Experiment, record experiment.EnrollmentRecord) (experiment.EnrollmentRecord, bool, []experiment.ChangeEvent) {
	switch record.Status {
	case experiment.StatusNotEnrolled:
		if !participating || exp.IsEnrollmentPaused {
			return record, true, nil
		}
		next, ok := e.evaluate(exp)
		if !ok {
			return record, true, nil
		}
		if next.IsEnrolled() {
			event, _ := next.ChangeEvent()
			return next, true, []experiment.ChangeEvent{event}
		}
		return next, true, nil

	case experiment.StatusEnrolled:
		if !participating {
			return e.disqualify(record, experiment.ReasonOptOut)
		}
		if !exp.HasBranch(record.Branch) {
			// The branch we were in disappeared
			return e.disqualify(record, experiment.ReasonError)
		}
		eligible, err := e.eligible(exp)
		if err != nil {
			e.logger.Warn("targeting evaluation failed for enrolled experiment",
				"slug", record.Slug, "error", err)
			return e.disqualify(record, experiment.ReasonError)
		}
		if !eligible {
			return e.disqualify(record, experiment.ReasonTargeting)
		}
		// Still eligible: same branch, same enrollment id. Bucketing is
		// never re-applied to an enrolled device.
		return record, true, nil

	case experiment.StatusDisqualified:
		if !participating {
			// Absorb the global opt-out into the reason, without an event
			record.Reason = experiment.ReasonOptOut
		}
		return record, true, nil

	default: // StatusWasEnrolled
		return record, true, nil
	}
}

// endedExperiment handles an experiment that vanished from the catalog
// while we held a record for it.
func (e *Evolver) endedExperiment(record experiment.EnrollmentRecord) (experiment.EnrollmentRecord, bool, []experiment.ChangeEvent) {
	if !record.IsActive() {
		// We were never enrolled anyway; drop the record
		return experiment.EnrollmentRecord{}, false, nil
	}
	next := record.End(e.now().Unix())
	event, _ := next.ChangeEvent()
	return next, true, []experiment.ChangeEvent{event}
}

// garbageCollect decides whether an orphaned record is still worth
// keeping. Only recent was-enrolled records survive.
func (e *Evolver) garbageCollect(record experiment.EnrollmentRecord) (experiment.EnrollmentRecord, bool) {
	if record.Status == experiment.StatusWasEnrolled {
		age := e.now().Sub(time.Unix(record.EndedAt, 0))
		if age < previousEnrollmentsGCTime {
			return record, true
		}
	}
	e.logger.Debug("garbage collecting enrollment", "slug", record.Slug)
	return experiment.EnrollmentRecord{}, false
}

// OptIn force-enrolls the device in a branch, bypassing targeting and
// bucketing. Used by developer verification flows.
func (e *Evolver) OptIn(exp experiment.Experiment, branchSlug string) (experiment.EnrollmentRecord, []experiment.ChangeEvent, error) {
	if !exp.HasBranch(branchSlug) {
		return experiment.EnrollmentRecord{}, nil, &UnknownBranchError{Slug: exp.Slug, Branch: branchSlug}
	}
	id, err := e.ids.NewID()
	if err != nil {
		return experiment.EnrollmentRecord{}, nil, fmt.Errorf("opt in to %q: %w", exp.Slug, err)
	}
	record := experiment.NewEnrolled(exp.Slug, branchSlug, id, experiment.ReasonOptIn)
	event, _ := record.ChangeEvent()
	return record, []experiment.ChangeEvent{event}, nil
}

// OptOut force-unenrolls a record. Enrolled records are disqualified with
// an event; not-enrolled records absorb the opt-out reason silently;
// anything else is untouched.
func (e *Evolver) OptOut(record experiment.EnrollmentRecord) (experiment.EnrollmentRecord, []experiment.ChangeEvent) {
	switch record.Status {
	case experiment.StatusEnrolled:
		next := record.Disqualify(experiment.ReasonOptOut)
		event, _ := next.ChangeEvent()
		return next, []experiment.ChangeEvent{event}
	case experiment.StatusNotEnrolled:
		record.Reason = experiment.ReasonOptOut
		return record, nil
	default:
		return record, nil
	}
}

// evaluate runs the full eligibility pipeline for an experiment the
// device holds no active enrollment in: app identity, targeting,
// membership bucketing, branch choice, identifier generation.
//
// The bool result is false only for contained failures (bad bucketing
// configuration, identifier generation); those produce no record at all.
func (e *Evolver) evaluate(exp experiment.Experiment) (experiment.EnrollmentRecord, bool) {
	eligible, err := e.eligible(exp)
	if err != nil {
		e.logger.Warn("targeting evaluation failed", "slug", exp.Slug, "error", err)
		return experiment.NewNotEnrolled(exp.Slug, experiment.ReasonError), true
	}
	if !eligible {
		return experiment.NewNotEnrolled(exp.Slug, experiment.ReasonNotTargeted), true
	}

	unit, ok := e.units[exp.BucketConfig.RandomizationUnit]
	if !ok || unit == "" {
		e.logger.Warn("randomization unit unavailable",
			"slug", exp.Slug, "unit", exp.BucketConfig.RandomizationUnit)
		return experiment.NewNotEnrolled(exp.Slug, experiment.ReasonNotTargeted), true
	}

	member, err := bucket.InRange(exp.BucketConfig, unit)
	if err != nil {
		e.logger.Error("bucketing configuration rejected", "slug", exp.Slug, "error", err)
		return experiment.EnrollmentRecord{}, false
	}
	if !member {
		return experiment.NewNotEnrolled(exp.Slug, experiment.ReasonNotSelected), true
	}

	branch, err := bucket.Choose(exp.Slug, unit, exp.Branches)
	if err != nil {
		e.logger.Error("branch choice rejected", "slug", exp.Slug, "error", err)
		return experiment.EnrollmentRecord{}, false
	}

	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Error("enrollment id generation failed", "slug", exp.Slug, "error", err)
		return experiment.EnrollmentRecord{}, false
	}

	return experiment.NewEnrolled(exp.Slug, branch, id, experiment.ReasonQualified), true
}

// eligible reports whether the device meets the experiment's audience
// constraints: application identity plus the targeting expression.
func (e *Evolver) eligible(exp experiment.Experiment) (bool, error) {
	if !exp.AppliesTo(&e.appCtx) {
		return false, nil
	}
	return e.evaluator.Evaluate(exp.Targeting, e.attrs)
}

// disqualify moves an enrolled record to disqualified and emits the
// matching event.
func (e *Evolver) disqualify(record experiment.EnrollmentRecord, reason string) (experiment.EnrollmentRecord, bool, []experiment.ChangeEvent) {
	next := record.Disqualify(reason)
	event, _ := next.ChangeEvent()
	return next, true, []experiment.ChangeEvent{event}
}

func mapExperiments(experiments []experiment.Experiment) map[string]experiment.Experiment {
	bySlug := make(map[string]experiment.Experiment, len(experiments))
	for _, exp := range experiments {
		bySlug[exp.Slug] = exp
	}
	return bySlug
}
