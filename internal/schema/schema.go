// Package schema validates and decodes experiment catalog payloads.
//
// A payload is checked in two passes: the embedded CUE schema pins the
// wire shape, then Go-side checks cover the rules CUE cannot express
// (duplicate slugs, branch references, bucket window bounds, supported
// schema versions). A payload that fails either pass is rejected
// wholesale; nothing from it is persisted.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/perchlabs/fieldtrial/experiment"
)

//go:embed catalog.cue
var catalogCUE string

// supportedSchemaMajor is the experiment schema major version this
// client understands. Experiments are versioned "major.minor.patch";
// only the major version gates decoding.
const supportedSchemaMajor = 1

// Validation error codes (E100-E119)
const (
	ErrPayloadSyntax    = "E100" // payload is not valid JSON
	ErrPayloadShape     = "E101" // payload fails the catalog schema
	ErrSchemaVersion    = "E102" // unsupported schema major version
	ErrDuplicateSlug    = "E103" // duplicate experiment slug
	ErrNoBranches       = "E104" // experiment has no branches
	ErrDuplicateBranch  = "E105" // duplicate branch slug
	ErrUnknownReference = "E106" // referenceBranch names no branch
	ErrBucketBounds     = "E107" // bucket window exceeds total
)

// ValidationError represents a catalog validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// InvalidPayloadError rejects a catalog payload, carrying every problem
// found in it.
type InvalidPayloadError struct {
	Errors []ValidationError
}

func (e *InvalidPayloadError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Decode validates payload against the catalog schema and returns the
// experiment list it carries. Returns *InvalidPayloadError when the
// payload is rejected.
func Decode(payload []byte) ([]experiment.Experiment, error) {
	if errs := validateShape(payload); len(errs) > 0 {
		return nil, &InvalidPayloadError{Errors: errs}
	}

	var envelope struct {
		Data []experiment.Experiment `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		// The CUE pass accepted the payload, so this is a schema/struct
		// mismatch on our side rather than bad input.
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	if errs := Validate(envelope.Data); len(errs) > 0 {
		return nil, &InvalidPayloadError{Errors: errs}
	}

	return envelope.Data, nil
}

// validateShape checks the raw payload against the embedded CUE schema.
// Returns all errors found (does not fail-fast).
func validateShape(payload []byte) []ValidationError {
	expr, err := cuejson.Extract("catalog.json", payload)
	if err != nil {
		return []ValidationError{{
			Field:   "payload",
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    ErrPayloadSyntax,
		}}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(catalogCUE, cue.Filename("catalog.cue"))
	catalog := schema.LookupPath(cue.ParsePath("#Catalog"))
	if err := catalog.Err(); err != nil {
		// The embedded schema itself failed to compile
		return []ValidationError{{
			Field:   "catalog.cue",
			Message: err.Error(),
			Code:    ErrPayloadShape,
		}}
	}

	unified := catalog.Unify(ctx.BuildExpr(expr))
	verr := unified.Validate(cue.Concrete(true), cue.Final())
	if verr == nil {
		return nil
	}

	var errs []ValidationError
	for _, cerr := range cueerrors.Errors(verr) {
		format, args := cerr.Msg()
		errs = append(errs, ValidationError{
			Field:   strings.Join(pathStrings(cerr.Path()), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrPayloadShape,
		})
	}
	return errs
}

func pathStrings(path []string) []string {
	if len(path) == 0 {
		return []string{"payload"}
	}
	return path
}

// Validate applies the semantic rules the CUE schema cannot express.
// Returns all errors found (does not fail-fast).
func Validate(experiments []experiment.Experiment) []ValidationError {
	var errs []ValidationError

	slugs := make(map[string]bool)
	for i, exp := range experiments {
		// E103: duplicate experiment slug
		if slugs[exp.Slug] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("data[%d].slug", i),
				Message: fmt.Sprintf("duplicate experiment slug: %q", exp.Slug),
				Code:    ErrDuplicateSlug,
			})
		}
		slugs[exp.Slug] = true

		// E102: schema major version gate
		if major, ok := schemaMajor(exp.SchemaVersion); !ok || major != supportedSchemaMajor {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("data[%d].schemaVersion", i),
				Message: fmt.Sprintf("schema version %q of experiment %q: supported major version is %d", exp.SchemaVersion, exp.Slug, supportedSchemaMajor),
				Code:    ErrSchemaVersion,
			})
		}

		// E104: at least one branch required
		if len(exp.Branches) == 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("data[%d].branches", i),
				Message: fmt.Sprintf("experiment %q must have at least one branch", exp.Slug),
				Code:    ErrNoBranches,
			})
		}

		// E105: duplicate branch slug
		branchSlugs := make(map[string]bool)
		for j, branch := range exp.Branches {
			if branchSlugs[branch.Slug] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("data[%d].branches[%d].slug", i, j),
					Message: fmt.Sprintf("duplicate branch slug %q in experiment %q", branch.Slug, exp.Slug),
					Code:    ErrDuplicateBranch,
				})
			}
			branchSlugs[branch.Slug] = true
		}

		// E106: referenceBranch must name a declared branch
		if exp.ReferenceBranch != "" && !branchSlugs[exp.ReferenceBranch] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("data[%d].referenceBranch", i),
				Message: fmt.Sprintf("reference branch %q of experiment %q names no branch", exp.ReferenceBranch, exp.Slug),
				Code:    ErrUnknownReference,
			})
		}

		// E107: bucket window must fit inside the namespace
		cfg := exp.BucketConfig
		if cfg.Start+cfg.Count > cfg.Total {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("data[%d].bucketConfig", i),
				Message: fmt.Sprintf("bucket window [%d, %d) of experiment %q exceeds total %d", cfg.Start, cfg.Start+cfg.Count, exp.Slug, cfg.Total),
				Code:    ErrBucketBounds,
			})
		}
	}

	return errs
}

// schemaMajor parses the major component of a "major.minor.patch"
// version string.
func schemaMajor(version string) (int, bool) {
	head, _, ok := strings.Cut(version, ".")
	if !ok {
		return 0, false
	}
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return major, true
}
