package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/retrievit"
	"github.com/poiesic/retrievit/ai"
	"github.com/poiesic/retrievit/ai/mock"
	"github.com/poiesic/retrievit/core"
)

func useMockProvider(t *testing.T) {
	t.Helper()
	original := newProvider
	newProvider = func(*ai.Config) (ai.AIProvider, error) {
		return mock.NewMockProvider(), nil
	}
	t.Cleanup(func() { newProvider = original })
}

// run executes the CLI and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"retrievit"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func setupCorpus(t *testing.T) (dbPath string, files []string) {
	t.Helper()
	useMockProvider(t)
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "db")
	files = []string{
		writeFile(t, dir, "solar.txt", "Solar panels convert sunlight into electricity."),
		writeFile(t, dir, "bread.md", "Sourdough bread needs a starter."),
	}
	out, err := run(t, "ingest", "--db", dbPath, files[0], files[1])
	require.NoError(t, err)
	assert.Contains(t, out, "ingested solar.txt: 1 chunks")
	assert.Contains(t, out, "ingested bread.md: 1 chunks")
	return dbPath, files
}

func TestSetupLogger(t *testing.T) {
	useMockProvider(t)

	_, err := run(t, "--log-level", "verbose", "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, err = run(t, "--log-level", "DEBUG", "models")
	assert.NoError(t, err)
}

func TestIngestAndSearch(t *testing.T) {
	dbPath, _ := setupCorpus(t)

	out, err := run(t, "search", "--db", dbPath, "-n", "1", "solar", "power")
	require.NoError(t, err)

	var resp core.SearchResponse
	require.NoError(t, sonic.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "solar power", resp.OriginalQuery)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Metadata.RerankingUsed)
}

func TestSearch_Filter(t *testing.T) {
	dbPath, _ := setupCorpus(t)

	out, err := run(t, "search", "--db", dbPath, "--filter", "fileType=md", "anything")
	require.NoError(t, err)

	var resp core.SearchResponse
	require.NoError(t, sonic.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "bread.md", resp.Results[0].DocumentID)
}

func TestSearch_DeepPreset(t *testing.T) {
	dbPath, _ := setupCorpus(t)

	out, err := run(t, "search", "--db", dbPath, "--preset", "deep", "--explain=false", "solar")
	require.NoError(t, err)

	var resp core.SearchResponse
	require.NoError(t, sonic.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Metadata.EnhancementUsed)
	assert.True(t, resp.Metadata.RerankingUsed)
	assert.False(t, resp.Metadata.ExplanationsUsed, "flag overrides the preset")
	require.NotEmpty(t, resp.Results)
	require.NotNil(t, resp.Results[0].RelevanceScore)
	assert.InDelta(t, 0.5, *resp.Results[0].RelevanceScore, 1e-9, "non-numeric rating is neutral")
}

func TestSearch_InvalidArguments(t *testing.T) {
	useMockProvider(t)
	dbPath := filepath.Join(t.TempDir(), "db")

	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"missing query", []string{"search", "--db", dbPath}, "query is required"},
		{"bad preset", []string{"search", "--db", dbPath, "--preset", "turbo", "q"}, "unknown preset"},
		{"bad filter", []string{"search", "--db", dbPath, "--filter", "novalue", "q"}, "expected key=value"},
		{"zero results", []string{"search", "--db", dbPath, "-n", "0", "q"}, "result count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestIngest_InvalidArguments(t *testing.T) {
	useMockProvider(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.txt", "beta")

	_, err := run(t, "ingest", "--db", filepath.Join(dir, "db"))
	assert.ErrorContains(t, err, "at least one file")

	_, err = run(t, "ingest", "--db", filepath.Join(dir, "db"), "--id", "x", a, b)
	assert.ErrorContains(t, err, "single file")

	_, err = run(t, "ingest", "--db", filepath.Join(dir, "db"), filepath.Join(dir, "missing.txt"))
	assert.ErrorContains(t, err, "failed to read")
}

func TestIngest_CustomID(t *testing.T) {
	useMockProvider(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "some notes")

	out, err := run(t, "ingest", "--db", filepath.Join(dir, "db"), "--id", "my-notes", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested my-notes")
}

func TestDeleteAndStats(t *testing.T) {
	dbPath, _ := setupCorpus(t)

	out, err := run(t, "stats", "--db", dbPath)
	require.NoError(t, err)
	var stats retrievit.Stats
	require.NoError(t, sonic.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalChunks)
	assert.Equal(t, 2, stats.TotalDocuments)

	out, err = run(t, "delete", "--db", dbPath, "bread.md", "unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted bread.md: 1 chunks")
	assert.Contains(t, out, "deleted unknown: 0 chunks")

	out, err = run(t, "stats", "--db", dbPath)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.TotalChunks)

	_, err = run(t, "delete", "--db", dbPath)
	assert.ErrorContains(t, err, "document id is required")
}

func TestReembedCommand(t *testing.T) {
	dbPath, _ := setupCorpus(t)

	t.Run("embedding-model is required", func(t *testing.T) {
		_, err := run(t, "reembed", "--db", dbPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding-model")
	})

	t.Run("validates batch size", func(t *testing.T) {
		_, err := run(t, "reembed", "--db", dbPath, "--embedding-model", "m", "--batch-size", "0")
		assert.ErrorContains(t, err, "batch-size")
	})

	t.Run("records new model", func(t *testing.T) {
		_, err := run(t, "reembed", "--db", dbPath, "--embedding-model", "new-model", "--batch-size", "1")
		require.NoError(t, err)

		out, err := run(t, "stats", "--db", dbPath)
		require.NoError(t, err)
		var stats retrievit.Stats
		require.NoError(t, sonic.Unmarshal([]byte(out), &stats))
		assert.Equal(t, "new-model", stats.EmbeddingModel)
	})
}

func TestReembedCommandFlags(t *testing.T) {
	var cmd *cli.Command
	for _, c := range newApp().Commands {
		if c.Name == "reembed" {
			cmd = c
		}
	}
	require.NotNil(t, cmd)

	defaults := map[string]any{}
	for _, flag := range cmd.Flags {
		switch f := flag.(type) {
		case *cli.IntFlag:
			defaults[f.Name] = f.Value
		case *cli.StringFlag:
			if f.Name == "embedding-model" {
				assert.True(t, f.Required)
				assert.Empty(t, f.Value, "embedding-model has no default value")
			}
		}
	}
	assert.Equal(t, 100, defaults["batch-size"])
	assert.Equal(t, 100, defaults["report-interval"])
	assert.Equal(t, 3, defaults["max-retries"])
}

func TestSummarizeCommand(t *testing.T) {
	useMockProvider(t)
	path := writeFile(t, t.TempDir(), "doc.txt", "A long document.")

	out, err := run(t, "summarize", "--max-words", "10", path)
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultResponse+"\n", out)

	_, err = run(t, "summarize")
	assert.ErrorContains(t, err, "exactly one file")
}

func TestModelsCommand(t *testing.T) {
	useMockProvider(t)

	out, err := run(t, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "mock-embedding\n")
	assert.Contains(t, out, "mock-generator\n")
}

func TestEnvironmentVariables(t *testing.T) {
	dbPath, _ := setupCorpus(t)
	t.Setenv("RETRIEVIT_DB", dbPath)

	out, err := run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalChunks": 2`)
}

func TestConfigFile(t *testing.T) {
	dbPath, _ := setupCorpus(t)
	cfgPath := writeFile(t, t.TempDir(), "retrievit.yaml", "storage:\n  badger:\n    path: "+dbPath+"\n")

	out, err := run(t, "--config", cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalDocuments": 2`)

	_, err = run(t, "--config", cfgPath, "--store", "sqlite", "stats")
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestParseFilter(t *testing.T) {
	filter, err := parseFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, filter)

	filter, err = parseFilter([]string{"type=pdf", "page=3", "score=0.5", "draft=false", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, core.Filter{
		"type":  "pdf",
		"page":  int64(3),
		"score": 0.5,
		"draft": false,
		"expr":  "a=b",
	}, filter)

	_, err = parseFilter([]string{"=x"})
	assert.Error(t, err)
}
