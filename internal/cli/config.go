package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/perchlabs/fieldtrial"
	"github.com/perchlabs/fieldtrial/experiment"
	"github.com/perchlabs/fieldtrial/remote"
)

// Config is the devtool configuration file. It carries everything the
// embedding application would normally supply in code: the database
// path, the device identity, and optionally the catalog server.
type Config struct {
	// Database is the SQLite file holding enrollment state.
	Database string `yaml:"database"`

	// ClientID is the device's "client_id" randomization unit value.
	ClientID string `yaml:"client_id"`

	// App is the application identity targeting runs against.
	App AppConfig `yaml:"app"`

	// Server configures the catalog server endpoint. Without it fetch and
	// update are unavailable; set-local still works.
	Server *ServerConfig `yaml:"server,omitempty"`

	// Engine selects the targeting evaluator, "expr" (default) or "cel".
	Engine string `yaml:"engine,omitempty"`
}

// AppConfig is the application identity section.
type AppConfig struct {
	AppID      string `yaml:"app_id"`
	Channel    string `yaml:"channel,omitempty"`
	AppVersion string `yaml:"app_version,omitempty"`
	Locale     string `yaml:"locale,omitempty"`
}

// ServerConfig is the catalog server section.
type ServerConfig struct {
	BaseURL    string `yaml:"base_url"`
	Bucket     string `yaml:"bucket,omitempty"`
	Collection string `yaml:"collection,omitempty"`
}

// LoadConfig reads and parses a devtool config file. Unknown keys are
// rejected to catch typos.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Database == "" {
		return nil, fmt.Errorf("invalid config: database is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("invalid config: client_id is required")
	}
	if cfg.Server != nil && cfg.Server.BaseURL == "" {
		return nil, fmt.Errorf("invalid config: server.base_url is required when server is set")
	}

	return &cfg, nil
}

// commandLogger builds the slog destination for a command invocation.
// Verbose routes debug output to stderr; otherwise logs are dropped.
func commandLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openClient loads the config and returns an initialized client. The
// caller owns Close. Failures before the engine is reached come back as
// ExitErrors with their message already complete.
func openClient(cmd *cobra.Command, opts *RootOptions) (*fieldtrial.Client, error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}

	logger := commandLogger(cmd, opts.Verbose)
	clientOpts := []fieldtrial.Option{fieldtrial.WithLogger(logger)}

	if cfg.Server != nil {
		source, err := remote.NewClient(remote.Config{
			BaseURL:    cfg.Server.BaseURL,
			Bucket:     cfg.Server.Bucket,
			Collection: cfg.Server.Collection,
			Logger:     logger,
		})
		if err != nil {
			return nil, NewExitError(ExitCommandError, err.Error())
		}
		clientOpts = append(clientOpts, fieldtrial.WithCatalogSource(source))
	}

	client, err := fieldtrial.New(fieldtrial.Config{
		DatabasePath: cfg.Database,
		AppContext: experiment.AppContext{
			AppID:      cfg.App.AppID,
			Channel:    cfg.App.Channel,
			AppVersion: cfg.App.AppVersion,
			Locale:     cfg.App.Locale,
		},
		RandomizationUnits: map[string]string{"client_id": cfg.ClientID},
		TargetingEngine:    cfg.Engine,
	}, clientOpts...)
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}

	if err := client.Initialize(cmd.Context()); err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	return client, nil
}
