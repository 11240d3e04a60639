package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/groundedrag/internal/answer"
	"github.com/Aman-CERP/groundedrag/internal/config"
	"github.com/Aman-CERP/groundedrag/pkg/version"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// isolate points user config at an empty directory and returns a project root.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")
	return t.TempDir()
}

func writeDoc(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"retrieve", "answer", "ingest", "serve", "status", "config", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("root"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
}

func TestVersionCmd_Outputs(t *testing.T) {
	// Given/When: default output
	out, err := run(t, "version")

	// Then: program name and commit are included
	require.NoError(t, err)
	assert.Contains(t, out, "groundedrag")
	assert.Contains(t, out, "commit")

	out, err = run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))

	out, err = run(t, "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestConfigShow_Defaults(t *testing.T) {
	isolate(t)

	out, err := run(t, "config", "show", "--source", "defaults", "--json")

	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.NewConfig().Server.Transport, cfg.Server.Transport)
	assert.Equal(t, config.NewConfig().Ingest.ChunkSize, cfg.Ingest.ChunkSize)
}

func TestConfigShow_InvalidSource(t *testing.T) {
	isolate(t)

	_, err := run(t, "config", "show", "--source", "cloud")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source")
}

func TestConfigShow_MissingUserConfig(t *testing.T) {
	isolate(t)

	out, err := run(t, "config", "show", "--source", "user")

	require.NoError(t, err)
	assert.Contains(t, out, "No user configuration file found")
}

func TestConfigInit_CreatesThenUpgrades(t *testing.T) {
	// Given: no user config
	isolate(t)
	path := config.GetUserConfigPath()

	// When: init runs
	out, err := run(t, "config", "init")

	// Then: the file is created with defaults
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration")
	require.FileExists(t, path)

	// When: a value is customized and init runs again without --force
	require.NoError(t, os.WriteFile(path, []byte("answer:\n  model: local-model\n"), 0o644))
	out, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// When: init runs with --force
	out, err = run(t, "config", "init", "--force")

	// Then: a backup is made and the custom value survives next to new defaults
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration upgraded")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "local-model")
	assert.Contains(t, string(data), "chunk_size")

	backups, err := filepath.Glob(path + config.BackupSuffix + ".*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigPath(t *testing.T) {
	isolate(t)

	out, err := run(t, "config", "path")

	require.NoError(t, err)
	assert.Equal(t, config.GetUserConfigPath(), strings.TrimSpace(out))
}

func TestIngestThenRetrieve(t *testing.T) {
	// Given: two documents ingested into an empty project
	root := isolate(t)
	docs := t.TempDir()
	solar := writeDoc(t, docs, "solar.md", "Solar panels convert sunlight into electricity with photovoltaic cells.")
	storage := writeDoc(t, docs, "storage.txt", "Lithium batteries store energy for cloudy days.")

	out, err := run(t, "--root", root, "ingest", solar, storage)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested solar: 1 chunks")
	assert.Contains(t, out, "Ingested storage: 1 chunks")
	assert.DirExists(t, config.DataDir(root))

	// When: retrieving with a term unique to one document
	out, err = run(t, "--root", root, "retrieve", "photovoltaic", "--json")

	// Then: that document's chunk is returned
	require.NoError(t, err)
	var resp struct {
		Chunks []string `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Chunks)
	assert.Contains(t, resp.Chunks, "Solar panels convert sunlight into electricity with photovoltaic cells.")

	// And: status reports both indexes
	out, err = run(t, "--root", root, "status", "--json")
	require.NoError(t, err)
	var info statusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 2, info.DenseCount)
	assert.Equal(t, 2, info.LexicalCount)
	assert.True(t, info.Fallback)
}

func TestIngest_DocIDWithManyFiles(t *testing.T) {
	root := isolate(t)

	_, err := run(t, "--root", root, "ingest", "a.txt", "b.txt", "--doc-id", "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one file")
}

func TestIngest_CustomDocID(t *testing.T) {
	root := isolate(t)
	path := writeDoc(t, t.TempDir(), "notes.txt", "Wind turbines generate electricity from moving air.")

	out, err := run(t, "--root", root, "ingest", path, "--doc-id", "energy-notes", "--json")

	require.NoError(t, err)
	var results []struct {
		DocID  string `json:"doc_id"`
		Chunks int    `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "energy-notes", results[0].DocID)
	assert.Equal(t, 1, results[0].Chunks)
}

func TestRetrieve_BlankQueryFindsNothing(t *testing.T) {
	// Given: a project with one ingested document
	root := isolate(t)
	path := writeDoc(t, t.TempDir(), "solar.txt", "Solar panels convert sunlight into electricity.")
	_, err := run(t, "--root", root, "ingest", path)
	require.NoError(t, err)

	// When: retrieving with a blank query
	out, err := run(t, "--root", root, "retrieve", "   ", "--json")

	// Then: no chunks are returned and the command succeeds
	require.NoError(t, err)
	assert.JSONEq(t, `{"chunks":[]}`, out)
}

func TestAnswer_RefusesWithoutEvidence(t *testing.T) {
	// Given: an empty project, so retrieval finds nothing
	root := isolate(t)

	// When: answering
	out, err := run(t, "--root", root, "answer", "What is the capital of France?", "--json")

	// Then: the refusal is returned without an LLM call
	require.NoError(t, err)
	var resp answer.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Refused())
}

func TestServe_UnknownTransport(t *testing.T) {
	root := isolate(t)

	_, err := run(t, "--root", root, "serve", "--transport", "grpc")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}
