package api

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/catalog"
	"github.com/magpie-cloud/magpie/storage/memory"
	"github.com/magpie-cloud/magpie/types"
)

type fakeRunner struct {
	discoveries chan types.ScanSpec
	taggings    chan types.TagAction
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		discoveries: make(chan types.ScanSpec, 1),
		taggings:    make(chan types.TagAction, 1),
	}
}

func (r *fakeRunner) RunDiscovery(_ context.Context, _ string, spec types.ScanSpec) error {
	r.discoveries <- spec
	return nil
}

func (r *fakeRunner) RunTagging(_ context.Context, _ string, action types.TagAction, _ string) error {
	r.taggings <- action
	return nil
}

type fakePublisher struct {
	regions []string
}

func (p *fakePublisher) Sync(context.Context) (catalog.SyncResult, error) {
	return catalog.SyncResult{Status: "success"}, nil
}

func (p *fakePublisher) Regions() []string { return p.regions }

type apifake struct{}

func (a *apifake) Service() string { return "apifake" }

func (a *apifake) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{"Thing": {ListOperation: "ListThings"}}
}

func (a *apifake) Discover(context.Context, aws.Config, string, string, string, zerolog.Logger) adapters.DiscoverResult {
	return adapters.DiscoverResult{Status: types.StatusSuccess}
}

func (a *apifake) Tag(context.Context, aws.Config, string, string, []types.ResourceRecord, string, types.TagAction, zerolog.Logger) []types.TagOutcome {
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeRunner) {
	t.Helper()
	adapters.Register(&apifake{})
	store := memory.New()
	runner := newFakeRunner()
	svc := New(store, runner, &fakePublisher{regions: []string{"us-east-1", "eu-west-1"}}, zerolog.Nop())
	return svc, store, runner
}

func awaitDiscovery(t *testing.T, runner *fakeRunner) types.ScanSpec {
	t.Helper()
	select {
	case spec := <-runner.discoveries:
		return spec
	case <-time.After(time.Second):
		t.Fatal("discovery run was not launched")
		return types.ScanSpec{}
	}
}

func TestStartDiscovery(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves selectors and creates the scan row", func(t *testing.T) {
		svc, store, runner := newTestService(t)

		scanID, err := svc.StartDiscovery(ctx, "", "nightly", "", types.ScanSpec{
			Accounts: []string{"111111111111"},
			Regions:  []string{"All"},
			Services: []string{"apifake::*"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, scanID)

		scan, err := store.GetScan(ctx, scanID)
		require.NoError(t, err)
		assert.Equal(t, types.ScanInProgress, scan.Status)
		assert.Equal(t, types.ScanTypeMetadataBase, scan.Type)
		assert.Equal(t, "nightly", scan.Name)

		spec := awaitDiscovery(t, runner)
		assert.Equal(t, []string{"us-east-1", "eu-west-1"}, spec.Regions)
		assert.Contains(t, spec.Services, "apifake::Thing")
	})

	t.Run("no accounts", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.StartDiscovery(ctx, "", "", "", types.ScanSpec{
			Regions:  []string{"All"},
			Services: []string{"All"},
		})
		assert.ErrorContains(t, err, "no accounts")
	})

	t.Run("invalid filter", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.StartDiscovery(ctx, "", "", "", types.ScanSpec{
			Accounts: []string{"1"},
			Regions:  []string{"All"},
			Services: []string{"All"},
			Filter:   "region ==",
		})
		assert.ErrorContains(t, err, "invalid filter")
	})

	t.Run("empty resolution leaves no scan row", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		_, err := svc.StartDiscovery(ctx, "scan-x", "", "", types.ScanSpec{
			Accounts: []string{"1"},
			Regions:  []string{"All"},
			Services: []string{"nosuch::Thing"},
		})
		assert.ErrorContains(t, err, "no services")

		_, err = store.GetScan(ctx, "scan-x")
		assert.Error(t, err)
	})

	t.Run("caller-supplied scan id is kept", func(t *testing.T) {
		svc, _, runner := newTestService(t)
		scanID, err := svc.StartDiscovery(ctx, "my-scan", "", types.ScanTypeTaggingRun, types.ScanSpec{
			Accounts: []string{"1"},
			Regions:  []string{"us-east-1"},
			Services: []string{"apifake::Thing"},
		})
		require.NoError(t, err)
		assert.Equal(t, "my-scan", scanID)
		awaitDiscovery(t, runner)
	})
}

func TestStartTagging(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *memory.Store, scanID string, status types.ScanStatus) {
		t.Helper()
		require.NoError(t, store.CreateScan(ctx, &types.Scan{
			ScanID: scanID, Status: types.ScanInProgress, StartedAt: time.Now(),
		}))
		if status != types.ScanInProgress {
			require.NoError(t, store.CompleteDiscovery(ctx, scanID, status, time.Now(), 0, ""))
		}
	}

	t.Run("launches the run", func(t *testing.T) {
		svc, store, runner := newTestService(t)
		seed(t, store, "scan-1", types.ScanCompleted)

		require.NoError(t, svc.StartTagging(ctx, "scan-1", types.TagActionApply, "owner:platform"))

		select {
		case action := <-runner.taggings:
			assert.Equal(t, types.TagActionApply, action)
		case <-time.After(time.Second):
			t.Fatal("tagging run was not launched")
		}

		scan, err := store.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, types.ScanInProgress, scan.TaggingStatus)
	})

	t.Run("rejects incomplete discovery", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		seed(t, store, "scan-2", types.ScanInProgress)

		err := svc.StartTagging(ctx, "scan-2", types.TagActionApply, "owner:platform")
		assert.ErrorContains(t, err, "requires a completed discovery")
	})

	t.Run("rejects concurrent tagging run", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		seed(t, store, "scan-3", types.ScanCompleted)
		require.NoError(t, store.MarkTaggingStarted(ctx, "scan-3", types.TagActionApply, time.Now()))

		err := svc.StartTagging(ctx, "scan-3", types.TagActionApply, "owner:platform")
		assert.ErrorContains(t, err, "already has a tagging run")
	})

	t.Run("apply requires values", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		seed(t, store, "scan-4", types.ScanCompleted)

		err := svc.StartTagging(ctx, "scan-4", types.TagActionApply, "owner")
		assert.ErrorContains(t, err, "no value")
	})

	t.Run("remove accepts bare keys", func(t *testing.T) {
		svc, store, runner := newTestService(t)
		seed(t, store, "scan-5", types.ScanCompleted)

		require.NoError(t, svc.StartTagging(ctx, "scan-5", types.TagActionRemove, "owner"))
		select {
		case <-runner.taggings:
		case <-time.After(time.Second):
			t.Fatal("tagging run was not launched")
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		err := svc.StartTagging(ctx, "scan-6", types.TagAction(9), "owner:platform")
		assert.ErrorContains(t, err, "unknown tag action")
	})
}

func TestRecordActionOverride(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	require.NoError(t, store.CreateScan(ctx, &types.Scan{ScanID: "scan-1", Status: types.ScanCompleted}))
	require.NoError(t, store.InsertRecords(ctx, []types.ResourceRecord{
		{ScanID: "scan-1", Seq: 1, Action: types.ActionUnset},
	}))

	assert.Error(t, svc.UpdateRecordAction(ctx, "scan-1", 1, types.ActionUnset), "cannot reset to UNSET")
	require.NoError(t, svc.UpdateRecordAction(ctx, "scan-1", 1, types.ActionKeepForTagging))

	kept, err := store.RecordsForTagging(ctx, "scan-1")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	assert.Error(t, svc.SaveProfile(ctx, "", `{}`))
	assert.Error(t, svc.SaveProfile(ctx, "weekly", `not json`))

	require.NoError(t, svc.SaveProfile(ctx, "weekly", `{"accounts":["1"],"regions":["All"],"services":["All"]}`))
	p, err := svc.GetProfile(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, "weekly", p.ProfileID)

	all, err := svc.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.DeleteProfile(ctx, "weekly"))
	_, err = svc.GetProfile(ctx, "weekly")
	assert.Error(t, err)
}
