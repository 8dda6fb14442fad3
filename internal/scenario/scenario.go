// Package scenario runs YAML-described enrollment flows against a real
// client. Each scenario builds a fresh client on a throwaway database,
// drives it through a sequence of catalog and participation operations,
// and checks the events and final enrollments against declared
// expectations. The conformance suite and the devtool both execute
// scenarios through Run.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpSetCatalog       = "set_catalog"
	OpApply            = "apply"
	OpSetParticipation = "set_participation"
	OpOptIn            = "opt_in"
	OpOptOut           = "opt_out"
)

// Scenario describes one enrollment flow.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ClientID is the device's "client_id" randomization unit value.
	// Branch assignment is a pure function of it, so scenarios pick ids
	// with known bucket positions.
	ClientID string `yaml:"client_id"`

	// App overrides the application identity the client reports.
	App *AppIdentity `yaml:"app,omitempty"`

	// EnrollmentIDs fixes the enrollment identifiers, in order of use.
	// When empty, ids are "enrollment-1", "enrollment-2", ...
	EnrollmentIDs []string `yaml:"enrollment_ids,omitempty"`

	// Steps is the operation sequence.
	Steps []Step `yaml:"steps"`

	// Final validates the end state after all steps ran.
	Final *FinalState `yaml:"final,omitempty"`
}

// AppIdentity is the application the scenario's client claims to be.
type AppIdentity struct {
	AppID      string `yaml:"app_id"`
	Channel    string `yaml:"channel,omitempty"`
	AppVersion string `yaml:"app_version,omitempty"`
	Locale     string `yaml:"locale,omitempty"`
}

// Step is a single client operation with an optional expectation.
type Step struct {
	// Op selects the operation: set_catalog, apply, set_participation,
	// opt_in, opt_out.
	Op string `yaml:"op"`

	// Experiments is the catalog for set_catalog, written in the wire
	// format (camelCase keys). An empty list is a valid empty catalog.
	Experiments []map[string]any `yaml:"experiments,omitempty"`

	// Participating is the flag for set_participation.
	Participating *bool `yaml:"participating,omitempty"`

	// Experiment and Branch name the target for opt_in and opt_out.
	Experiment string `yaml:"experiment,omitempty"`
	Branch     string `yaml:"branch,omitempty"`

	// Expect validates the step outcome. Nil only requires the step to
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect declares a step's outcome.
type Expect struct {
	// Events is the exact event sequence the step must return. An empty
	// list asserts no events; omitting the key skips the check.
	Events []Event `yaml:"events,omitempty"`

	// Error is the expected error code (e.g. "no-such-branch"). Empty
	// means the step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Event is an expected change event.
type Event struct {
	Experiment string `yaml:"experiment"`
	Branch     string `yaml:"branch,omitempty"`

	// EnrollmentID is compared only when set.
	EnrollmentID string `yaml:"enrollment_id,omitempty"`

	Reason string `yaml:"reason,omitempty"`

	// Change is enrollment, disqualification, or unenrollment.
	Change string `yaml:"change"`
}

// FinalState validates the client after the last step.
type FinalState struct {
	// Active maps every expected active experiment to its branch.
	Active map[string]string `yaml:"active"`

	// Participating checks the global flag when set.
	Participating *bool `yaml:"participating,omitempty"`
}

// Load reads and parses a scenario YAML file. Returns an error if the
// file doesn't exist, is malformed, contains unknown fields (typos), or
// is missing required fields.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	if s.Final != nil && s.Final.Active == nil {
		return fmt.Errorf("final: active is required (use empty map for no enrollments)")
	}

	return nil
}

// validateStep validates a single step based on its operation.
func validateStep(index int, step *Step) error {
	if step.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", index)
	}

	switch step.Op {
	case OpSetCatalog:
		if step.Experiments == nil {
			return fmt.Errorf("steps[%d]: experiments is required for set_catalog (use empty list for an empty catalog)", index)
		}
	case OpApply:
		// No arguments
	case OpSetParticipation:
		if step.Participating == nil {
			return fmt.Errorf("steps[%d]: participating is required for set_participation", index)
		}
	case OpOptIn:
		if step.Experiment == "" {
			return fmt.Errorf("steps[%d]: experiment is required for opt_in", index)
		}
		if step.Branch == "" {
			return fmt.Errorf("steps[%d]: branch is required for opt_in", index)
		}
	case OpOptOut:
		if step.Experiment == "" {
			return fmt.Errorf("steps[%d]: experiment is required for opt_out", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	if step.Expect != nil {
		if step.Expect.Error != "" && len(step.Expect.Events) > 0 {
			return fmt.Errorf("steps[%d].expect: error and events are mutually exclusive", index)
		}
		for j, event := range step.Expect.Events {
			if event.Experiment == "" {
				return fmt.Errorf("steps[%d].expect.events[%d]: experiment is required", index, j)
			}
			if event.Change == "" {
				return fmt.Errorf("steps[%d].expect.events[%d]: change is required", index, j)
			}
		}
	}

	return nil
}
