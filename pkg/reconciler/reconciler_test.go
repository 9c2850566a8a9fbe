package reconciler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/assetsync/pkg/differ"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

const uri = "http://aas-env:8081"

var sm = tree.RootChain(tree.KindSubmodel, "urn:sm:1")

func submodel(p1, p2 string) tree.Node {
	elements := []tree.Node{tree.NewProperty("P1", p1)}
	if p2 != "" {
		elements = append(elements, tree.NewProperty("P2", p2))
	}
	return tree.NewSubmodel("urn:sm:1", "M1", elements...)
}

func setup(t *testing.T, opts ...reconciler.Option) (reconciler.Reconciler, *reconciler.MockSource, *registry.Memory) {
	t.Helper()
	logging.DisableLoggingForTest(t)
	mem := registry.NewMemory()
	rec, err := reconciler.New(mem, opts...)
	require.NoError(t, err)
	src := reconciler.NewMockSource(uri, submodel("a", "b"))
	src.SetNodes(sources.Shells, tree.NewShell("urn:shell:1", "S1"))
	rec.AddSource(src)
	return rec, src, mem
}

func keys(entries []tree.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key()
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := reconciler.New(nil)
	assert.True(t, errors.IsValidationError(err))

	_, err = reconciler.New(registry.NewMemory(), reconciler.WithFetchTimeout(0))
	assert.True(t, errors.IsValidationError(err))

	_, err = reconciler.New(registry.NewMemory(), reconciler.WithObserver(nil))
	assert.True(t, errors.IsValidationError(err))
}

func TestReconcile_ScenarioA(t *testing.T) {
	rec, _, mem := setup(t)

	res, err := rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Added(), "submodel and two properties, the shell is not eligible")
	assert.Equal(t, "added 3, updated 0, removed 0, failed 0", res.Summary())
	assert.Equal(t, 3, mem.Len())
	assert.NotEmpty(t, res.CycleID)
	assert.Equal(t, reconciler.CycleSync, res.Kind)
	assert.ElementsMatch(t, []string{
		sm.Key(),
		sm.Child(tree.KindProperty, "P1").Key(),
		sm.Child(tree.KindProperty, "P2").Key(),
	}, keys(rec.Registered(uri)))
}

func TestReconcile_Idempotent(t *testing.T) {
	rec, _, mem := setup(t)
	ctx := context.Background()

	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	creates := mem.Calls(registry.OpCreate)

	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
	assert.Equal(t, "added 0, updated 0, removed 0, failed 0", res.Summary())
	assert.Equal(t, creates, mem.Calls(registry.OpCreate))
	assert.Zero(t, mem.Calls(registry.OpUpdate))
	assert.Zero(t, mem.Calls(registry.OpDelete))
}

func TestReconcile_CycleID(t *testing.T) {
	rec, _, _ := setup(t)

	first, err := rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)
	second, err := rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)
	assert.NotEqual(t, first.CycleID, second.CycleID)

	ctx := logging.WithCycle(context.Background(), "cycle-7")
	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "cycle-7", res.CycleID, "a cycle id carried by the context is kept")
}

func TestReconcile_ContentUpdate(t *testing.T) {
	rec, src, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	src.SetNodes(sources.Submodels, submodel("z", "b"))
	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	assert.Equal(t, "added 0, updated 1, removed 0, failed 0", res.Summary())
	assert.Equal(t, 1, mem.Calls(registry.OpUpdate))

	p1 := sm.Child(tree.KindProperty, "P1").Key()
	for _, e := range rec.Registered(uri) {
		if e.Key() == p1 {
			assert.Equal(t, "z", e.Resource.Properties["value"])
		}
	}
}

func TestReconcile_ScenarioB_Removal(t *testing.T) {
	rec, src, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	creates := mem.Calls(registry.OpCreate)

	src.SetNodes(sources.Submodels, submodel("a", ""))
	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	assert.Equal(t, "added 0, updated 0, removed 1, failed 0", res.Summary())
	assert.Equal(t, 1, mem.Calls(registry.OpDelete))
	assert.Equal(t, creates, mem.Calls(registry.OpCreate))
	assert.Zero(t, mem.Calls(registry.OpUpdate))
	assert.Equal(t, 2, mem.Len())
	assert.NotContains(t, keys(rec.Registered(uri)), sm.Child(tree.KindProperty, "P2").Key())
}

func TestReconcile_ScenarioC_AlreadyExists(t *testing.T) {
	rec, _, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	// A fresh reconciler on the same registry sees every create collide.
	fresh, err := reconciler.New(mem)
	require.NoError(t, err)
	fresh.AddSource(reconciler.NewMockSource(uri, submodel("a", "b")))

	res, err := fresh.Reconcile(ctx, uri)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, pipeline.Info, res.Failure.Severity)
	assert.True(t, res.IsSuccess())
	assert.Len(t, fresh.Registered(uri), 3, "already registered items are cached")
	assert.Equal(t, 3, mem.Len())

	res, err = fresh.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.False(t, res.HasChanges())
}

func TestReconcile_ScenarioD_UnauthorizedKeepsRegistered(t *testing.T) {
	rec, src, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	before := keys(rec.Registered(uri))

	src.SetError(sources.Submodels, errors.NewAuthenticationError(uri, 401, "denied"))
	res, err := rec.Reconcile(ctx, uri)
	require.Error(t, err)
	assert.Equal(t, pipeline.Fatal, res.Failure.Severity)
	assert.ElementsMatch(t, before, keys(rec.Registered(uri)))
	assert.Zero(t, mem.Calls(registry.OpDelete))
	assert.Equal(t, 3, mem.Len())

	// The next cycle retries on its own.
	src.SetError(sources.Submodels, nil)
	src.SetNodes(sources.Submodels, submodel("a", ""))
	res, err = rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed())
}

func TestReconcile_FatalLogsTally(t *testing.T) {
	rec, src, _ := setup(t)
	captured := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), captured.Logger)

	src.SetError(sources.Submodels, errors.NewAuthenticationError(uri, 401, "denied"))
	res, err := rec.Reconcile(ctx, uri)
	require.Error(t, err)

	captured.AssertContains(t, `"level":"error"`)
	captured.AssertContains(t, `"error":`)
	captured.AssertContains(t, `"cycle_id":"`+res.CycleID+`"`)
	captured.AssertContains(t, `"kind":"sync"`)
	captured.AssertContains(t, `"removed":0`)
}

func TestReconcile_SameIDShortDifferentKind(t *testing.T) {
	rec, src, mem := setup(t)
	ctx := context.Background()
	file := &tree.Leaf{Element: tree.Element{Kind: tree.KindFile, IDShort: "X", Value: "/doc.pdf"}}
	src.SetNodes(sources.Submodels, tree.NewSubmodel("urn:sm:1", "M1", tree.NewProperty("X", "1"), file))

	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added())
	assert.True(t, res.Failure == nil || res.Failure.Severity != pipeline.Info, "no create collides")
	assert.Equal(t, 3, mem.Len())

	src.SetNodes(sources.Submodels, tree.NewSubmodel("urn:sm:1", "M1", tree.NewProperty("X", "1")))
	res, err = rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed())
	assert.Equal(t, 2, mem.Len(), "the property keeps its own asset")
	assert.Len(t, rec.Registered(uri), 2)

	for _, e := range rec.Registered(uri) {
		_, ok := mem.Get(e.Resource.ID)
		assert.True(t, ok, "%s is registered", e.Key())
	}
}

func TestReconcile_StoreFailureKeepsConfirmed(t *testing.T) {
	rec, _, mem := setup(t)
	var creates atomic.Int32
	mem.SetFailureHook(func(_ context.Context, op, _ string) error {
		if op == registry.OpCreate && creates.Add(1) == 2 {
			return errors.New("store unavailable")
		}
		return nil
	})

	res, err := rec.Reconcile(context.Background(), uri)
	require.Error(t, err)
	var syncErr *errors.SyncError
	require.ErrorAs(t, err, &syncErr)

	assert.False(t, res.IsSuccess())
	assert.Equal(t, "added 1, updated 0, removed 0, failed 2", res.Summary())
	assert.Len(t, rec.Registered(uri), 1, "only the confirmed create is cached")
	assert.Equal(t, 1, mem.Len())

	// The next cycle picks up where the failed one stopped.
	mem.SetFailureHook(nil)
	res, err = rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added())
	assert.Equal(t, 3, mem.Len())
}

func TestReconcile_UnavailableSourceIsSkipped(t *testing.T) {
	rec, src, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	src.SetAvailable(false)
	src.SetNodes(sources.Submodels)
	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, pipeline.Warning, res.Failure.Severity)
	assert.Len(t, rec.Registered(uri), 3, "nothing removed while the source is down")
	assert.Equal(t, 3, mem.Len())
}

func TestReconcile_FetchErrors(t *testing.T) {
	tests := []struct {
		name     string
		category sources.Category
		err      error
		fatal    bool
	}{
		{"method not allowed disables category", sources.ConceptDescriptions, errors.NewAPIError(uri, 405, "no"), false},
		{"not found aborts the cycle", sources.Submodels, errors.NewAPIError(uri, 404, "gone"), true},
		{"unauthorized aborts the cycle", sources.Submodels, errors.NewAuthenticationError(uri, 401, "denied"), true},
		{"unreachable aborts the cycle", sources.Submodels, errors.ErrUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, src, mem := setup(t)
			ctx := context.Background()
			_, err := rec.Reconcile(ctx, uri)
			require.NoError(t, err)
			before := keys(rec.Registered(uri))

			src.SetError(tt.category, tt.err)
			res, err := rec.Reconcile(ctx, uri)

			if tt.fatal {
				require.Error(t, err)
				assert.False(t, res.IsSuccess())
				assert.Equal(t, pipeline.Fatal, res.Failure.Severity)
				assert.ElementsMatch(t, before, keys(rec.Registered(uri)), "registered state is kept")
				assert.Zero(t, mem.Calls(registry.OpDelete))
				assert.Equal(t, 3, mem.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, pipeline.Info, res.Failure.Severity)
			assert.False(t, res.HasChanges())
		})
	}
}

func TestReconcile_DisabledCategoryStaysDisabled(t *testing.T) {
	rec, src, _ := setup(t)
	ctx := context.Background()

	src.SetError(sources.ConceptDescriptions, errors.NewAPIError(uri, 405, "no"))
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	first := src.Fetches()

	_, err = rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Fetches()-first, "only shells and submodels are fetched again")
}

func TestReconcile_UnknownSource(t *testing.T) {
	rec, _, _ := setup(t)
	_, err := rec.Reconcile(context.Background(), "http://nowhere")
	assert.True(t, errors.IsNotFound(err))
}

func TestReconcile_AllEligible(t *testing.T) {
	cfg := reconciler.DefaultConfig()
	cfg.OnlySubmodels = false
	rec, _, _ := setup(t, reconciler.WithConfig(cfg))

	res, err := rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Added(), "the shell is registered too")
}

func TestReconcile_ExplicitBindings(t *testing.T) {
	secret := tree.Policies{AccessPolicyID: "restricted", ContractPolicyID: "paid"}
	cfg := reconciler.DefaultConfig()
	cfg.Bindings = tree.NewStaticBindings(tree.Policies{}, map[string]tree.Policies{
		sm.Child(tree.KindProperty, "P2").Key(): secret,
	})
	rec, _, mem := setup(t, reconciler.WithConfig(cfg))

	_, err := rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)

	for _, e := range rec.Registered(uri) {
		record, ok := mem.Get(e.Resource.ID)
		require.True(t, ok)
		if e.Key() == sm.Child(tree.KindProperty, "P2").Key() {
			assert.Equal(t, secret, record.Binding.Policies())
		} else {
			assert.Equal(t, tree.DefaultPolicies(), record.Binding.Policies())
		}
	}
}

func TestReconcile_AdditiveStrategy(t *testing.T) {
	rec, src, mem := setup(t, reconciler.WithStrategy(differ.ApplyAdditive))
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	src.SetNodes(sources.Submodels, submodel("a", ""))
	res, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed())
	assert.Equal(t, 3, mem.Len())
}

func TestReconcile_ConcurrentCallsShareOneCycle(t *testing.T) {
	rec, src, mem := setup(t)
	release := src.Block()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Reconcile(context.Background(), uri)
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool { return src.Fetches() >= 1 }, time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 3, mem.Calls(registry.OpCreate), "no resource created twice")
	assert.Len(t, rec.Registered(uri), 3)
}

func TestRegistered_DoesNotWaitForCycle(t *testing.T) {
	rec, src, _ := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	release := src.Block()
	defer release()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rec.Reconcile(ctx, uri)
	}()
	assert.Eventually(t, func() bool { return src.Fetches() > 3 }, time.Second, 5*time.Millisecond)

	assert.Len(t, rec.Registered(uri), 3)
	release()
	<-done
}

func TestUnregister(t *testing.T) {
	rec, _, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	res, err := rec.Unregister(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, reconciler.CycleCleanup, res.Kind)
	assert.Equal(t, "unregistered 3, failed 0", res.Summary())
	assert.Zero(t, mem.Len())
	assert.Empty(t, rec.Registered(uri))
	assert.Empty(t, rec.Sources())

	_, err = rec.Reconcile(ctx, uri)
	assert.True(t, errors.IsNotFound(err))
}

func TestUnregister_IgnoresAdditiveStrategy(t *testing.T) {
	rec, _, mem := setup(t, reconciler.WithStrategy(differ.ApplyAdditive))
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	_, err = rec.Unregister(ctx, uri)
	require.NoError(t, err)
	assert.Zero(t, mem.Len())
}

func TestUnregister_FailureKeepsLeftovers(t *testing.T) {
	rec, src, mem := setup(t)
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)

	mem.SetFailureHook(func(_ context.Context, op, _ string) error {
		if op == registry.OpDelete {
			return errors.ErrLeased
		}
		return nil
	})
	res, err := rec.Unregister(ctx, uri)
	require.Error(t, err)
	assert.Equal(t, "unregistered 0, failed 3", res.Summary())
	assert.Len(t, rec.Registered(uri), 3)
	assert.Empty(t, rec.Sources(), "source is no longer tracked")

	mem.SetFailureHook(nil)
	res, err = rec.Unregister(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Removed())
	assert.Zero(t, mem.Len())

	// Re-adding starts from scratch.
	rec.AddSource(src)
	res, err = rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added())
}

func TestSnapshot(t *testing.T) {
	rec, _, mem := setup(t)

	snap, err := rec.Snapshot(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, uri, snap.Source)
	require.Len(t, snap.Roots, 1, "the shell has no eligible node")
	assert.Equal(t, sm.Key(), snap.Roots[0].Chain)
	assert.Len(t, snap.Roots[0].Children, 2)
	assert.NotEmpty(t, snap.Roots[0].AssetID)

	assert.Zero(t, mem.Len(), "snapshot never registers")
	assert.Empty(t, rec.Registered(uri))
}

func TestSnapshot_Disabled(t *testing.T) {
	cfg := reconciler.DefaultConfig()
	cfg.ExposeSelfDescription = false
	rec, _, _ := setup(t, reconciler.WithConfig(cfg))

	_, err := rec.Snapshot(context.Background(), uri)
	assert.True(t, errors.IsMethodNotAllowed(err))
}

func TestObserver(t *testing.T) {
	var seen []string
	rec, _, _ := setup(t, reconciler.WithObserver(func(res *reconciler.Result) {
		seen = append(seen, string(res.Kind)+" "+res.Summary())
	}))
	ctx := context.Background()
	_, err := rec.Reconcile(ctx, uri)
	require.NoError(t, err)
	_, err = rec.Unregister(ctx, uri)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"sync added 3, updated 0, removed 0, failed 0",
		"cleanup unregistered 3, failed 0",
	}, seen)
}

func TestRestore(t *testing.T) {
	logging.DisableLoggingForTest(t)
	mem := registry.NewMemory()
	ctx := context.Background()

	// A first process registers the tree, plus one resource of another source
	first, err := reconciler.New(mem)
	require.NoError(t, err)
	first.AddSource(reconciler.NewMockSource(uri, submodel("a", "b")))
	_, err = first.Reconcile(ctx, uri)
	require.NoError(t, err)
	first.AddSource(reconciler.NewMockSource("http://other:8081", submodel("x", "")))
	_, err = first.Reconcile(ctx, "http://other:8081")
	require.NoError(t, err)
	require.Equal(t, 5, mem.Len())

	// A second process starts from an empty cache while P2 vanished remotely
	second, err := reconciler.New(mem)
	require.NoError(t, err)
	second.AddSource(reconciler.NewMockSource(uri, submodel("a", "")))

	adopted, err := second.Restore(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, 3, adopted, "records of the other source are left alone")
	assert.Len(t, second.Registered(uri), 3)

	res, err := second.Reconcile(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "added 0, updated 0, removed 1, failed 0", res.Summary())
	assert.Equal(t, 4, mem.Len())
}

func TestRestore_Errors(t *testing.T) {
	rec, _, mem := setup(t)

	_, err := rec.Restore(context.Background(), "http://unknown")
	assert.True(t, errors.IsNotFound(err))

	mem.SetFailureHook(func(_ context.Context, op, _ string) error {
		if op == registry.OpList {
			return errors.ErrUnavailable
		}
		return nil
	})
	_, err = rec.Restore(context.Background(), uri)
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}
