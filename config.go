package fieldtrial

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/perchlabs/fieldtrial/experiment"
)

// CatalogSource fetches raw catalog payloads. The stock implementation is
// remote.Client; tests and embedded deployments substitute their own.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]byte, error)
}

// IDSource mints enrollment identifiers. The default generates random
// UUIDs; tests inject fixed sequences for deterministic assertions.
type IDSource interface {
	NewID() (string, error)
}

// Config carries the host-supplied identity and wiring a Client needs.
// All fields are read once by New; later mutation has no effect.
type Config struct {
	// DatabasePath is the SQLite file holding enrollment state. Required.
	DatabasePath string

	// AppContext identifies the host application. Experiments restricted
	// to another application or channel are never enrollable, and the
	// derived attributes feed targeting expressions.
	AppContext experiment.AppContext

	// RandomizationUnits maps unit names to this device's stable
	// identifiers, e.g. "client_id" to the installation id. An experiment
	// bucketing on a unit missing here is not enrollable.
	RandomizationUnits map[string]string

	// TargetingEngine selects the expression evaluator, "expr" (default)
	// or "cel".
	TargetingEngine string
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return errors.New("fieldtrial: Config.DatabasePath is required")
	}
	return nil
}

// Option adjusts optional Client collaborators.
type Option func(*options)

type options struct {
	logger *slog.Logger
	source CatalogSource
	ids    IDSource
	now    func() time.Time
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger routes the client's diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCatalogSource wires the fetch collaborator used by FetchExperiments
// and UpdateExperiments. Without one, those operations fail and the
// client is local-only (SetExperimentsLocally still works).
func WithCatalogSource(source CatalogSource) Option {
	return func(o *options) { o.source = source }
}

// WithIDSource overrides enrollment-id generation.
func WithIDSource(source IDSource) Option {
	return func(o *options) { o.ids = source }
}

// WithNow overrides the clock used for unenrollment timestamps and
// garbage collection.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
