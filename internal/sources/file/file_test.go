package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/sources"
)

const envJSON = `{"submodels":[{"modelType":"Submodel","id":"urn:sm:1","submodelElements":[
  {"modelType":"Property","idShort":"P1","value":"a"}]}]}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), constants.FilePermissions))
}

func TestSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.json")
	writeFile(t, path, envJSON)

	src, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, URIFor(path), src.URI())
	assert.True(t, src.Available(context.Background()))

	nodes, err := sources.FetchAll(context.Background(), src, sources.Submodels)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "urn:sm:1", nodes[0].Meta().ID)

	shells, err := sources.FetchAll(context.Background(), src, sources.Shells)
	require.NoError(t, err)
	assert.Empty(t, shells)

	back, ok := PathOf(src.URI())
	require.True(t, ok)
	assert.Equal(t, path, back)

	require.NoError(t, os.Remove(path))
	assert.False(t, src.Available(context.Background()))
	_, err = src.FetchTopLevel(context.Background(), sources.Submodels, "")
	assert.True(t, errors.IsNotFound(err))
}

func TestSource_InvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	writeFile(t, path, "submodels: [\n")

	src, err := New(path)
	require.NoError(t, err)
	_, err = src.Load()
	var parseErr *errors.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, path, parseErr.File)
}

func TestNew_RejectsUnknownExtension(t *testing.T) {
	_, err := New("model.aasx")
	assert.True(t, errors.IsValidationError(err))
}

func TestMergeOperations(t *testing.T) {
	assert.Equal(t, OpRegistered, mergeOperations(OpRegistered, OpChanged))
	assert.Equal(t, OpRemoved, mergeOperations(OpRegistered, OpRemoved))
	assert.Equal(t, OpChanged, mergeOperations(OpRemoved, OpRegistered))
	assert.Equal(t, OpChanged, mergeOperations(OpChanged, OpChanged))
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "existing.yaml"), "submodels: []\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	w := NewWatcher(dir, 20*time.Millisecond)
	existing, err := w.Existing()
	require.NoError(t, err)
	require.Len(t, existing, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 8)
	require.NoError(t, w.Start(ctx, events))
	defer func() { _ = w.Stop() }()

	path := filepath.Join(dir, "new.json")
	writeFile(t, path, envJSON)

	select {
	case ev := <-events:
		assert.Equal(t, OpRegistered, ev.Operation, "create and write collapse into one event")
		abs, _ := filepath.Abs(path)
		assert.Equal(t, URIFor(abs), ev.URI)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for new environment file")
	}

	require.NoError(t, os.Remove(path))
	select {
	case ev := <-events:
		assert.Equal(t, OpRemoved, ev.Operation)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for removed environment file")
	}
}
