package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/fieldtrial/experiment"
)

// validExperiment builds an experiment that passes every check.
func validExperiment(slug string) experiment.Experiment {
	return experiment.Experiment{
		SchemaVersion: "1.12.0",
		Slug:          slug,
		BucketConfig: experiment.BucketConfig{
			RandomizationUnit: "client_id",
			Namespace:         slug,
			Start:             0,
			Count:             10000,
			Total:             10000,
		},
		Branches: []experiment.Branch{
			{Slug: "control", Ratio: 1},
			{Slug: "treatment", Ratio: 1},
		},
		ReferenceBranch: "control",
	}
}

// decodeErrors runs Decode and requires an InvalidPayloadError.
func decodeErrors(t *testing.T, payload string) []ValidationError {
	t.Helper()
	_, err := Decode([]byte(payload))
	require.Error(t, err)
	var perr *InvalidPayloadError
	require.ErrorAs(t, err, &perr)
	require.NotEmpty(t, perr.Errors)
	return perr.Errors
}

// =============================================================================
// Decode Tests (CUE shape pass + envelope)
// =============================================================================

func TestDecodeValidPayload(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "1.12.0",
			"slug": "reader-toolbar",
			"appId": "com.perchlabs.reader",
			"channel": "nightly",
			"userFacingName": "Reader toolbar",
			"userFacingDescription": "Tests the new toolbar layout",
			"isEnrollmentPaused": false,
			"targeting": "language == 'en'",
			"bucketConfig": {
				"randomizationUnit": "client_id",
				"namespace": "reader-toolbar",
				"start": 0,
				"count": 5000,
				"total": 10000
			},
			"branches": [
				{"slug": "control", "ratio": 1},
				{"slug": "treatment", "ratio": 1, "feature": {"featureId": "toolbar", "enabled": true}}
			],
			"referenceBranch": "control"
		}]
	}`

	experiments, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Len(t, experiments, 1)

	exp := experiments[0]
	assert.Equal(t, "reader-toolbar", exp.Slug)
	assert.Equal(t, "com.perchlabs.reader", exp.AppID)
	assert.Equal(t, "nightly", exp.Channel)
	assert.Equal(t, 5000, exp.BucketConfig.Count)
	require.Len(t, exp.Branches, 2)
	require.NotNil(t, exp.Branches[1].Feature)
	assert.Equal(t, "toolbar", exp.Branches[1].Feature.FeatureID)
}

func TestDecodeEmptyData(t *testing.T) {
	experiments, err := Decode([]byte(`{"data": []}`))
	require.NoError(t, err)
	assert.Empty(t, experiments)
}

func TestDecodeInvalidJSON(t *testing.T) {
	errs := decodeErrors(t, `{"data": [`)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrPayloadSyntax, errs[0].Code)
}

func TestDecodeMissingData(t *testing.T) {
	errs := decodeErrors(t, `{}`)
	assert.Equal(t, ErrPayloadShape, errs[0].Code)
}

func TestDecodeWrongSlugType(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "1.0.0",
			"slug": 42,
			"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": 0, "count": 1, "total": 1},
			"branches": [{"slug": "control", "ratio": 1}]
		}]
	}`

	errs := decodeErrors(t, payload)
	assert.Equal(t, ErrPayloadShape, errs[0].Code)
	assert.Contains(t, errs[0].Field, "slug")
}

func TestDecodeUnknownKeysIgnored(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "1.0.0",
			"slug": "forward-compat",
			"featureValidationOptOut": true,
			"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": 0, "count": 1, "total": 1, "extra": 7},
			"branches": [{"slug": "control", "ratio": 1}]
		}],
		"timestamp": 1700000000
	}`

	experiments, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Len(t, experiments, 1)
	assert.Equal(t, "forward-compat", experiments[0].Slug)
}

func TestDecodeMissingBucketConfig(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "1.0.0",
			"slug": "no-buckets",
			"branches": [{"slug": "control", "ratio": 1}]
		}]
	}`

	errs := decodeErrors(t, payload)
	assert.Equal(t, ErrPayloadShape, errs[0].Code)
}

func TestDecodeNegativeBucketStart(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "1.0.0",
			"slug": "negative-start",
			"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": -1, "count": 1, "total": 1},
			"branches": [{"slug": "control", "ratio": 1}]
		}]
	}`

	errs := decodeErrors(t, payload)
	assert.Equal(t, ErrPayloadShape, errs[0].Code)
}

func TestDecodeZeroTotal(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "1.0.0",
			"slug": "zero-total",
			"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": 0, "count": 0, "total": 0},
			"branches": [{"slug": "control", "ratio": 1}]
		}]
	}`

	errs := decodeErrors(t, payload)
	assert.Equal(t, ErrPayloadShape, errs[0].Code)
}

func TestDecodeUnsupportedSchemaVersion(t *testing.T) {
	payload := `{
		"data": [{
			"schemaVersion": "2.0.0",
			"slug": "from-the-future",
			"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": 0, "count": 1, "total": 1},
			"branches": [{"slug": "control", "ratio": 1}]
		}]
	}`

	errs := decodeErrors(t, payload)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrSchemaVersion, errs[0].Code)
	assert.Contains(t, errs[0].Message, "from-the-future")
}

func TestDecodeRejectsWholePayload(t *testing.T) {
	// One bad experiment rejects the payload, including the good one
	payload := `{
		"data": [
			{
				"schemaVersion": "1.0.0",
				"slug": "good",
				"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": 0, "count": 1, "total": 1},
				"branches": [{"slug": "control", "ratio": 1}]
			},
			{
				"schemaVersion": "2.0.0",
				"slug": "bad",
				"bucketConfig": {"randomizationUnit": "client_id", "namespace": "n", "start": 0, "count": 1, "total": 1},
				"branches": [{"slug": "control", "ratio": 1}]
			}
		]
	}`

	experiments, err := Decode([]byte(payload))
	assert.Nil(t, experiments)
	require.Error(t, err)
}

// =============================================================================
// Semantic Validation Tests
// =============================================================================

func TestValidateValid(t *testing.T) {
	errs := Validate([]experiment.Experiment{validExperiment("exp-a"), validExperiment("exp-b")})
	assert.Empty(t, errs, "valid experiments should have no errors")
}

func TestValidateDuplicateSlug(t *testing.T) {
	errs := Validate([]experiment.Experiment{validExperiment("twice"), validExperiment("twice")})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateSlug, errs[0].Code)
	assert.Contains(t, errs[0].Message, "twice")
}

func TestValidateNoBranches(t *testing.T) {
	exp := validExperiment("empty-branches")
	exp.Branches = nil
	exp.ReferenceBranch = ""

	errs := Validate([]experiment.Experiment{exp})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrNoBranches, errs[0].Code)
}

func TestValidateDuplicateBranch(t *testing.T) {
	exp := validExperiment("dup-branch")
	exp.Branches = []experiment.Branch{
		{Slug: "control", Ratio: 1},
		{Slug: "control", Ratio: 1},
	}

	errs := Validate([]experiment.Experiment{exp})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateBranch, errs[0].Code)
}

func TestValidateUnknownReferenceBranch(t *testing.T) {
	exp := validExperiment("bad-reference")
	exp.ReferenceBranch = "no-such-branch"

	errs := Validate([]experiment.Experiment{exp})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownReference, errs[0].Code)
	assert.Contains(t, errs[0].Message, "no-such-branch")
}

func TestValidateBucketWindowExceedsTotal(t *testing.T) {
	exp := validExperiment("overflow")
	exp.BucketConfig.Start = 6000
	exp.BucketConfig.Count = 5000
	exp.BucketConfig.Total = 10000

	errs := Validate([]experiment.Experiment{exp})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrBucketBounds, errs[0].Code)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	first := validExperiment("multi")
	first.SchemaVersion = "0.9.0"
	second := validExperiment("multi")
	second.Branches = nil
	second.ReferenceBranch = ""

	errs := Validate([]experiment.Experiment{first, second})
	require.Len(t, errs, 3)

	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.Contains(t, codes, ErrSchemaVersion)
	assert.Contains(t, codes, ErrDuplicateSlug)
	assert.Contains(t, codes, ErrNoBranches)
}
