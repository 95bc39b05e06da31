package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborq/ragcore/config"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.StorePath = filepath.Join(t.TempDir(), "test.db")
	cfg.RAG.Embedding = config.EmbeddingConfig{Strategy: "stub"}
	cfg.RAG.Retrieval = config.RetrievalConfig{Strategy: "hybrid", TopK: 5, Alpha: 0.5}
	cfg.RAG.Generation = config.GenerationConfig{Strategy: "extractive"}
	cfg.RAG.PostProcess = nil

	path := filepath.Join(t.TempDir(), "ragcore.json")
	require.NoError(t, cfg.Save(path))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIngestThenQuery_RoundTrip(t *testing.T) {
	// Given a config and a document on disk
	cfgPath := writeTestConfig(t)
	docPath := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("the quick brown fox jumps over the lazy dog"), 0644))

	// When ingesting then querying
	_, err := runCmd(t, "--config", cfgPath, "ingest", docPath)
	require.NoError(t, err)

	out, err := runCmd(t, "--config", cfgPath, "query", "fox")

	// Then the answer cites the ingested document
	require.NoError(t, err)
	assert.Contains(t, out, "citations:")
	assert.Contains(t, out, "doc.txt")
}

func TestIngest_UnsupportedKindExitsIngestFailure(t *testing.T) {
	// Given a file with an unsupported extension
	cfgPath := writeTestConfig(t)
	docPath := filepath.Join(t.TempDir(), "doc.bin")
	require.NoError(t, os.WriteFile(docPath, []byte("binary"), 0644))

	// When ingesting
	_, err := runCmd(t, "--config", cfgPath, "ingest", docPath)

	// Then it reports an ingest-failure exit code
	require.Error(t, err)
	assert.Equal(t, exitIngestFailure, exitCodeFor(err))
}

func TestLoadConfig_MissingFileExitsConfigError(t *testing.T) {
	// Given a --config path that does not exist
	_, err := runCmd(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "reset")

	// Then it reports a config-error exit code
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeFor(err))
}

func TestReset_ClearsCorpus(t *testing.T) {
	// Given an engine with one ingested document
	cfgPath := writeTestConfig(t)
	docPath := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("alpha beta gamma delta"), 0644))
	_, err := runCmd(t, "--config", cfgPath, "ingest", docPath)
	require.NoError(t, err)

	// When resetting then querying
	_, err = runCmd(t, "--config", cfgPath, "reset")
	require.NoError(t, err)
	out, err := runCmd(t, "--config", cfgPath, "query", "alpha")

	// Then there are no citations left to report
	require.NoError(t, err)
	assert.NotContains(t, out, "doc.txt")
}
