package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/registry"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	p1, p2 := entry("P1", "a"), entry("P2", "b")

	require.NoError(t, mem.Create(ctx, p2.Resource, p2.Binding))
	require.NoError(t, mem.Create(ctx, p1.Resource, p1.Binding))
	assert.True(t, errors.IsAlreadyExists(mem.Create(ctx, p1.Resource, p1.Binding)))

	records, err := mem.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "id-P1", records[0].Resource.ID)

	t.Run("update keeps binding", func(t *testing.T) {
		changed := p1.Resource
		changed.Properties = map[string]any{"value": "z"}
		require.NoError(t, mem.Update(ctx, changed))
		rec, _ := mem.Get("id-P1")
		assert.Equal(t, "z", rec.Resource.Properties["value"])
		assert.Equal(t, p1.Binding, rec.Binding)
		assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))
	})

	t.Run("stored payload is a copy", func(t *testing.T) {
		p2.Resource.Properties["value"] = "mutated"
		rec, _ := mem.Get("id-P2")
		assert.Equal(t, "b", rec.Resource.Properties["value"])
	})

	t.Run("missing ids", func(t *testing.T) {
		assert.True(t, errors.IsNotFound(mem.Delete(ctx, "nope")))
		assert.True(t, errors.IsNotFound(mem.Update(ctx, entry("nope", "").Resource)))
	})

	require.NoError(t, mem.Delete(ctx, "id-P1"))
	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, 2, mem.Calls(registry.OpDelete))
}
