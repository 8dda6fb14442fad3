package fieldtrial

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/perchlabs/fieldtrial/experiment"
	"github.com/perchlabs/fieldtrial/internal/enrollment"
	"github.com/perchlabs/fieldtrial/internal/schema"
	"github.com/perchlabs/fieldtrial/internal/store"
	"github.com/perchlabs/fieldtrial/internal/targeting"
)

// Client is the embeddable enrollment engine. One instance per database;
// all methods are safe for concurrent use.
//
// Reads (Experiments, ExperimentBranch, ExperimentBranches,
// ActiveExperiments, GlobalUserParticipation) serve an in-memory snapshot
// under a read lock and never touch disk or network. Mutations serialize
// through the write lock and keep the snapshot in step with the database.
// FetchExperiments performs its network call outside the lock.
type Client struct {
	cfg     Config
	opts    options
	evolver *enrollment.Evolver

	mu            sync.RWMutex
	store         *store.Store
	participating bool
	applied       []experiment.Experiment
	bySlug        map[string]experiment.Experiment
	records       map[string]experiment.EnrollmentRecord
}

// New validates cfg, wires the collaborators, and returns an
// uninitialized client. No I/O happens until Initialize.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	evaluator, err := targeting.New(cfg.TargetingEngine)
	if err != nil {
		return nil, &Error{Code: ErrCodeTargeting, Message: "targeting engine unavailable", Err: err}
	}

	return &Client{
		cfg:  cfg,
		opts: o,
		evolver: enrollment.New(enrollment.Config{
			Evaluator: evaluator,
			IDs:       o.ids,
			Units:     cfg.RandomizationUnits,
			Context:   cfg.AppContext,
			Logger:    o.logger,
			Now:       o.now,
		}),
	}, nil
}

// Initialize opens the database and loads the participation flag, the
// applied catalog, and the enrollment records into the snapshot. A failed
// Initialize leaves the client unopened with nothing cached; calling it
// again on an initialized client is a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		return nil
	}

	s, err := store.Open(c.cfg.DatabasePath)
	if err != nil {
		return storeError(err)
	}
	participating, err := s.ReadParticipation(ctx)
	if err != nil {
		s.Close()
		return storeError(err)
	}
	applied, err := s.ReadAppliedCatalog(ctx)
	if err != nil {
		s.Close()
		return storeError(err)
	}
	records, err := s.ReadEnrollments(ctx)
	if err != nil {
		s.Close()
		return storeError(err)
	}

	c.store = s
	c.participating = participating
	c.setSnapshot(applied, records)
	c.opts.logger.Debug("client initialized",
		"path", c.cfg.DatabasePath,
		"experiments", len(applied),
		"records", len(records))
	return nil
}

// Close releases the database. Further operations return the not-ready
// error; a closed client may be re-initialized.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	c.applied = nil
	c.bySlug = nil
	c.records = nil
	if err != nil {
		return storeError(err)
	}
	return nil
}

// Experiments returns the applied catalog in its delivery order.
func (c *Client) Experiments() ([]experiment.Experiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return nil, errNotReady()
	}
	return slices.Clone(c.applied), nil
}

// ExperimentBranch returns the branch the device is enrolled in, or the
// empty string when the experiment is known but the device is not
// enrolled. Unknown slugs are a lookup error.
func (c *Client) ExperimentBranch(slug string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return "", errNotReady()
	}
	if _, ok := c.bySlug[slug]; !ok {
		return "", errNoSuchExperiment(slug)
	}
	record, ok := c.records[slug]
	if !ok || !record.IsEnrolled() {
		return "", nil
	}
	return record.Branch, nil
}

// ExperimentBranches returns the experiment's branches in catalog order.
func (c *Client) ExperimentBranches(slug string) ([]experiment.Branch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return nil, errNotReady()
	}
	exp, ok := c.bySlug[slug]
	if !ok {
		return nil, errNoSuchExperiment(slug)
	}
	return slices.Clone(exp.Branches), nil
}

// ActiveExperiments returns one row per enrolled record, ascending slug.
func (c *Client) ActiveExperiments() ([]experiment.EnrolledExperiment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return nil, errNotReady()
	}

	slugs := make([]string, 0, len(c.records))
	for slug, record := range c.records {
		if record.IsEnrolled() {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)

	active := make([]experiment.EnrolledExperiment, 0, len(slugs))
	for _, slug := range slugs {
		exp, ok := c.bySlug[slug]
		if !ok {
			// Enrolled records always have a catalog entry; skip strays.
			continue
		}
		record := c.records[slug]
		row := experiment.EnrolledExperiment{
			Slug:                  slug,
			UserFacingName:        exp.UserFacingName,
			UserFacingDescription: exp.UserFacingDescription,
			BranchSlug:            record.Branch,
			EnrollmentID:          record.EnrollmentID,
		}
		if b := exp.FindBranch(record.Branch); b != nil && b.Feature != nil {
			row.FeatureIDs = []string{b.Feature.FeatureID}
		}
		active = append(active, row)
	}
	return active, nil
}

// GlobalUserParticipation reports the persisted participation flag.
func (c *Client) GlobalUserParticipation() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return false, errNotReady()
	}
	return c.participating, nil
}

// FetchExperiments pulls a catalog payload from the configured source,
// validates it, and stages it in the pending slot. No enrollment state
// changes until ApplyPendingExperiments.
func (c *Client) FetchExperiments(ctx context.Context) error {
	if c.opts.source == nil {
		return &Error{Code: ErrCodeNetworking, Message: "no catalog source configured"}
	}

	// Network I/O stays outside the lock.
	payload, err := c.opts.source.FetchCatalog(ctx)
	if err != nil {
		return fetchError(err)
	}
	experiments, err := schema.Decode(payload)
	if err != nil {
		return catalogError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return errNotReady()
	}
	if err := c.store.WritePendingCatalog(ctx, experiments); err != nil {
		return storeError(err)
	}
	c.opts.logger.Debug("catalog staged", "experiments", len(experiments))
	return nil
}

// SetExperimentsLocally validates payload and stages it in the pending
// slot, exactly as FetchExperiments would. A byte-identical payload
// yields identical post-apply state whichever way it arrived.
func (c *Client) SetExperimentsLocally(ctx context.Context, payload []byte) error {
	experiments, err := schema.Decode(payload)
	if err != nil {
		return catalogError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return errNotReady()
	}
	if err := c.store.WritePendingCatalog(ctx, experiments); err != nil {
		return storeError(err)
	}
	c.opts.logger.Debug("catalog staged locally", "experiments", len(experiments))
	return nil
}

// ApplyPendingExperiments evolves enrollment state against the staged
// catalog and commits the new snapshot atomically. With nothing staged it
// re-applies the current catalog, which makes apply idempotent and runs
// garbage collection. The returned events describe every transition, in
// ascending slug order.
func (c *Client) ApplyPendingExperiments(ctx context.Context) ([]experiment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil, errNotReady()
	}

	pending, present, err := c.store.ReadPendingCatalog(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	updated := pending
	if !present {
		updated = c.applied
	}

	next, events := c.evolver.Evolve(c.participating, c.applied, updated, c.records)
	if err := c.store.CommitApplied(ctx, updated, next); err != nil {
		return nil, storeError(err)
	}
	c.setSnapshot(updated, next)
	c.opts.logger.Info("experiments applied",
		"experiments", len(updated),
		"events", len(events))
	return events, nil
}

// UpdateExperiments is FetchExperiments followed by
// ApplyPendingExperiments.
func (c *Client) UpdateExperiments(ctx context.Context) ([]experiment.ChangeEvent, error) {
	if err := c.FetchExperiments(ctx); err != nil {
		return nil, err
	}
	return c.ApplyPendingExperiments(ctx)
}

// SetGlobalUserParticipation flips the device-wide participation flag.
//
// Turning participation off disqualifies every enrolled experiment in one
// transaction and returns the disqualification events; a second call is a
// no-op. Turning it back on only persists the flag: re-enrollment happens
// on the next apply.
func (c *Client) SetGlobalUserParticipation(ctx context.Context, participating bool) ([]experiment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil, errNotReady()
	}

	if participating {
		if err := c.store.WriteParticipation(ctx, true); err != nil {
			return nil, storeError(err)
		}
		c.participating = true
		c.opts.logger.Info("global participation enabled")
		return nil, nil
	}

	next, events := c.evolver.Evolve(false, c.applied, c.applied, c.records)
	if err := c.store.CommitParticipation(ctx, false, next); err != nil {
		return nil, storeError(err)
	}
	c.participating = false
	c.records = next
	c.opts.logger.Info("global participation disabled", "events", len(events))
	return events, nil
}

// OptInWithBranch force-enrolls the device in a branch of an applied
// experiment, bypassing targeting and bucketing. A developer verification
// flow, not a user surface.
func (c *Client) OptInWithBranch(ctx context.Context, slug, branch string) ([]experiment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil, errNotReady()
	}
	exp, ok := c.bySlug[slug]
	if !ok {
		return nil, errNoSuchExperiment(slug)
	}

	record, events, err := c.evolver.OptIn(exp, branch)
	if err != nil {
		var unknown *enrollment.UnknownBranchError
		if errors.As(err, &unknown) {
			return nil, errNoSuchBranch(slug, branch)
		}
		return nil, &Error{Code: ErrCodeIdentifier, Message: "enrollment id generation failed", Slug: slug, Err: err}
	}
	if err := c.store.WriteEnrollment(ctx, record); err != nil {
		return nil, storeError(err)
	}
	c.records[slug] = record
	c.opts.logger.Info("opted in", "slug", slug, "branch", branch)
	return events, nil
}

// OptOut force-unenrolls the device from an applied experiment.
func (c *Client) OptOut(ctx context.Context, slug string) ([]experiment.ChangeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil, errNotReady()
	}
	if _, ok := c.bySlug[slug]; !ok {
		return nil, errNoSuchExperiment(slug)
	}

	record, ok := c.records[slug]
	if !ok {
		// Applied experiments always carry a record; tolerate the gap by
		// materializing the refusal.
		record = experiment.NewNotEnrolled(slug, experiment.ReasonOptOut)
		if err := c.store.WriteEnrollment(ctx, record); err != nil {
			return nil, storeError(err)
		}
		c.records[slug] = record
		return nil, nil
	}

	next, events := c.evolver.OptOut(record)
	if err := c.store.WriteEnrollment(ctx, next); err != nil {
		return nil, storeError(err)
	}
	c.records[slug] = next
	c.opts.logger.Info("opted out", "slug", slug)
	return events, nil
}

// setSnapshot replaces the cached catalog and records. Callers hold the
// write lock.
func (c *Client) setSnapshot(applied []experiment.Experiment, records map[string]experiment.EnrollmentRecord) {
	c.applied = applied
	c.bySlug = make(map[string]experiment.Experiment, len(applied))
	for _, exp := range applied {
		c.bySlug[exp.Slug] = exp
	}
	c.records = records
}
