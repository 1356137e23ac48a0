package cmd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAddListRemove(t *testing.T) {
	cfg := testConfig(t)
	addEditor(t, cfg)

	out, err := execute(t, cfg, "catalog", "list", "--json")
	require.NoError(t, err)

	var entries []struct {
		Key     string `json:"key"`
		Name    string `json:"name"`
		Version string `json:"version"`
		Size    int64  `json:"size"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, editorKey, entries[0].Key)
	assert.Equal(t, "Editor", entries[0].Name)
	assert.Equal(t, int64(len("editor payload")), entries[0].Size)

	out, err = execute(t, cfg, "catalog", "list", "edt")
	require.NoError(t, err)
	assert.Contains(t, out, "editor")

	_, err = execute(t, cfg, "catalog", "remove", editorKey)
	require.NoError(t, err)

	out, err = execute(t, cfg, "catalog", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Catalog is empty")
}

func TestCatalogAddRejectsBadInput(t *testing.T) {
	cfg := testConfig(t)
	payload := writePayload(t, "x")

	_, err := execute(t, cfg, "catalog", "add", "not-a-key", "--version", "1.0", "--payload", payload)
	assert.Equal(t, core.ExitInvalidArgs, ExitCode(err))

	_, err = execute(t, cfg, "catalog", "add", editorKey, "--version", "1.0", "--payload", "/does/not/exist")
	assert.Equal(t, core.ExitInvalidArgs, ExitCode(err))
}

func TestCatalogKeyLookup(t *testing.T) {
	cfg := testConfig(t)
	addEditor(t, cfg)

	ctx := context.Background()
	database, err := openDatabase(ctx, cfg)
	require.NoError(t, err)
	defer database.Close()

	key, err := catalogKey(ctx, database, "EDITOR", false)
	require.NoError(t, err)
	assert.Equal(t, "editor", key.ID)

	_, err = catalogKey(ctx, database, "edit", false)
	require.ErrorIs(t, err, errNoMatch)
	assert.Contains(t, err.Error(), "did you mean")

	_, err = catalogKey(ctx, database, "zzz", false)
	require.ErrorIs(t, err, errNoMatch)

	key, err = catalogKey(ctx, database, "https://other.example.org/packages/thing", false)
	require.NoError(t, err)
	assert.Equal(t, "thing", key.ID)
}
