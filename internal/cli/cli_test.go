package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// testClientID buckets into the first half of a full window under the
// "search-gold" namespace, so apply lands it on the control branch.
const testClientID = "client-a1b2"

// writeDevConfig writes a devtool config whose database lives in dir and
// returns the config path.
func writeDevConfig(t *testing.T, dir string) string {
	t.Helper()
	config := fmt.Sprintf(`database: %s
client_id: %s
app:
  app_id: lantern
  channel: release
`, filepath.Join(dir, "enrollments.db"), testClientID)
	path := filepath.Join(dir, "fieldtrial.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return path
}

// writeDevConfigWithServer is writeDevConfig plus a server section.
func writeDevConfigWithServer(t *testing.T, dir, baseURL string) string {
	t.Helper()
	config := fmt.Sprintf(`database: %s
client_id: %s
app:
  app_id: lantern
  channel: release
server:
  base_url: %s
`, filepath.Join(dir, "enrollments.db"), testClientID, baseURL)
	path := filepath.Join(dir, "fieldtrial.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return path
}

// catalogExperiment builds a full-window experiment every device using
// the "client_id" unit enrolls in.
func catalogExperiment(slug string) map[string]any {
	return map[string]any{
		"schemaVersion":         "1.0.0",
		"slug":                  slug,
		"appId":                 "lantern",
		"userFacingName":        "Search ranking trial",
		"userFacingDescription": "Compares ranking models on live traffic.",
		"bucketConfig": map[string]any{
			"randomizationUnit": "client_id",
			"namespace":         slug,
			"start":             0,
			"count":             10000,
			"total":             10000,
		},
		"branches": []map[string]any{
			{"slug": "control", "ratio": 1},
			{"slug": "treatment", "ratio": 1},
		},
		"referenceBranch": "control",
	}
}

// writeCatalogFile writes a catalog JSON file and returns its path.
func writeCatalogFile(t *testing.T, dir string, experiments ...map[string]any) string {
	t.Helper()
	if experiments == nil {
		experiments = []map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{"data": experiments})
	require.NoError(t, err)
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, payload, 0644))
	return path
}

// runCommand executes one command against buffers and returns stdout.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// stageCatalog runs set-local with the given experiments.
func stageCatalog(t *testing.T, opts *RootOptions, dir string, experiments ...map[string]any) {
	t.Helper()
	path := writeCatalogFile(t, dir, experiments...)
	_, err := runCommand(t, NewSetLocalCommand(opts), path)
	require.NoError(t, err)
}

// applyCatalog runs apply and returns its text output.
func applyCatalog(t *testing.T, opts *RootOptions) string {
	t.Helper()
	out, err := runCommand(t, NewApplyCommand(opts))
	require.NoError(t, err)
	return out
}
