package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/storage/memory"
	"github.com/magpie-cloud/magpie/types"
)

// failingActionsStore delegates everything but classification writes.
type failingActionsStore struct {
	storage.Store
}

func (s *failingActionsStore) UpdateActions(context.Context, string, []int, types.RecordAction) error {
	return errors.New("connection reset")
}

// fakeBroker satisfies SessionBroker without touching STS.
type fakeBroker struct {
	failAccounts map[string]bool
}

func (b *fakeBroker) Assume(_ context.Context, accountID string) (aws.Config, error) {
	if b.failAccounts[accountID] {
		return aws.Config{}, fmt.Errorf("access denied for %s", accountID)
	}
	return aws.Config{Region: "us-east-1"}, nil
}

func (b *fakeBroker) ClientConfig(ctx context.Context, accountID, region string) (aws.Config, error) {
	cfg, err := b.Assume(ctx, accountID)
	if err != nil {
		return aws.Config{}, err
	}
	cfg.Region = region
	return cfg, nil
}

// enginefake discovers two resources per task, one tagged and one
// bare, and tags everything successfully.
type enginefake struct {
	mu       sync.Mutex
	tagCalls map[string]int
}

func (f *enginefake) calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tagCalls[key]
}

func (f *enginefake) Service() string { return "enginefake" }

func (f *enginefake) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Widget": {ListOperation: "ListWidgets"},
		"Globe":  {ListOperation: "ListGlobes", Global: true},
	}
}

func (f *enginefake) Discover(_ context.Context, _ aws.Config, accountID, region, resourceType string, _ zerolog.Logger) adapters.DiscoverResult {
	mk := func(id string, tags map[string]string) types.ResourceRecord {
		return types.ResourceRecord{
			AccountID:    accountID,
			Region:       region,
			Service:      "enginefake",
			ResourceType: resourceType,
			ResourceID:   id,
			Tags:         tags,
			TagsNumber:   len(tags),
		}
	}
	return adapters.DiscoverResult{
		Key:    "enginefake:" + resourceType,
		Status: types.StatusSuccess,
		Records: []types.ResourceRecord{
			mk("tagged-"+region, map[string]string{"env": "prod"}),
			mk("bare-"+region, nil),
		},
	}
}

func (f *enginefake) Tag(_ context.Context, _ aws.Config, accountID, region string, records []types.ResourceRecord, _ string, _ types.TagAction, _ zerolog.Logger) []types.TagOutcome {
	if f.tagCalls != nil {
		f.mu.Lock()
		f.tagCalls[accountID+"/"+region]++
		f.mu.Unlock()
	}
	outcomes := make([]types.TagOutcome, 0, len(records))
	for _, r := range records {
		status := types.StatusSuccess
		errMsg := ""
		if r.ResourceID == "poison" {
			status = types.StatusError
			errMsg = "resource locked"
		}
		outcomes = append(outcomes, types.TagOutcome{
			AccountID:  r.AccountID,
			Region:     r.Region,
			Service:    r.Service,
			Identifier: r.ResourceID,
			ARN:        r.ARN,
			Status:     status,
			Error:      errMsg,
		})
	}
	return outcomes
}

func newTestEngine(t *testing.T, broker SessionBroker) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	eng := New(store, broker, Options{Workers: 4, BatchSize: 3, ControlRegion: "us-east-1"}, zerolog.Nop())
	return eng, store
}

func createScan(t *testing.T, store *memory.Store, scanID string) {
	t.Helper()
	require.NoError(t, store.CreateScan(context.Background(), &types.Scan{
		ScanID:    scanID,
		Status:    types.ScanInProgress,
		Type:      types.ScanTypeMetadataBase,
		StartedAt: time.Now(),
	}))
}

func TestRunDiscovery(t *testing.T) {
	adapters.Register(&enginefake{})
	ctx := context.Background()

	t.Run("dense seq and classification", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{})
		createScan(t, store, "scan-1")

		spec := types.ScanSpec{
			Accounts: []string{"111111111111"},
			Regions:  []string{"us-east-1", "eu-west-1"},
			Services: []string{"enginefake::Widget"},
			Filter:   "tags_number == 0",
		}
		require.NoError(t, eng.RunDiscovery(ctx, "scan-1", spec))

		scan, err := store.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, types.ScanCompleted, scan.Status)
		assert.Equal(t, 4, scan.ResourceCount)

		var seqs []int
		var kept, excluded int
		require.NoError(t, store.IterateRecords(ctx, "scan-1", func(r types.ResourceRecord) error {
			seqs = append(seqs, r.Seq)
			switch r.Action {
			case types.ActionKeepForTagging:
				kept++
			case types.ActionExclude:
				excluded++
			}
			return nil
		}))
		assert.Equal(t, []int{1, 2, 3, 4}, seqs)
		assert.Equal(t, 2, kept, "bare resources match tags_number == 0")
		assert.Equal(t, 2, excluded)
	})

	t.Run("failed account is skipped, scan still completes", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{failAccounts: map[string]bool{"222222222222": true}})
		createScan(t, store, "scan-2")

		spec := types.ScanSpec{
			Accounts: []string{"111111111111", "222222222222"},
			Regions:  []string{"us-east-1"},
			Services: []string{"enginefake::Widget"},
		}
		require.NoError(t, eng.RunDiscovery(ctx, "scan-2", spec))

		scan, err := store.GetScan(ctx, "scan-2")
		require.NoError(t, err)
		assert.Equal(t, types.ScanCompleted, scan.Status)
		assert.Equal(t, 2, scan.ResourceCount, "only the healthy account contributes")
	})

	t.Run("global type scheduled once per account", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{})
		createScan(t, store, "scan-3")

		spec := types.ScanSpec{
			Accounts: []string{"111111111111"},
			Regions:  []string{"us-east-1", "eu-west-1", "ap-south-1"},
			Services: []string{"enginefake::Globe"},
		}
		require.NoError(t, eng.RunDiscovery(ctx, "scan-3", spec))

		scan, err := store.GetScan(ctx, "scan-3")
		require.NoError(t, err)
		assert.Equal(t, 2, scan.ResourceCount, "one task regardless of region count")
	})

	t.Run("classification failure keeps the persisted count", func(t *testing.T) {
		mem := memory.New()
		createScan(t, mem, "scan-5")
		eng := New(&failingActionsStore{Store: mem}, &fakeBroker{},
			Options{Workers: 2, BatchSize: 3, ControlRegion: "us-east-1"}, zerolog.Nop())

		spec := types.ScanSpec{
			Accounts: []string{"111111111111"},
			Regions:  []string{"us-east-1", "eu-west-1"},
			Services: []string{"enginefake::Widget"},
		}
		require.Error(t, eng.RunDiscovery(ctx, "scan-5", spec))

		scan, err := mem.GetScan(ctx, "scan-5")
		require.NoError(t, err)
		assert.Equal(t, types.ScanFailed, scan.Status)
		assert.Equal(t, 4, scan.ResourceCount, "records persisted before the failure stay counted")
	})

	t.Run("invalid filter fails the scan before discovery", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{})
		createScan(t, store, "scan-4")

		spec := types.ScanSpec{
			Accounts: []string{"111111111111"},
			Regions:  []string{"us-east-1"},
			Services: []string{"enginefake::Widget"},
			Filter:   "region ==",
		}
		require.Error(t, eng.RunDiscovery(ctx, "scan-4", spec))

		scan, err := store.GetScan(ctx, "scan-4")
		require.NoError(t, err)
		assert.Equal(t, types.ScanFailed, scan.Status)
		assert.Contains(t, scan.Message, "invalid filter")
	})
}

func TestRunTagging(t *testing.T) {
	fake := &enginefake{tagCalls: map[string]int{}}
	adapters.Register(fake)
	ctx := context.Background()

	seed := func(t *testing.T, store *memory.Store, scanID string, records []types.ResourceRecord) {
		t.Helper()
		createScan(t, store, scanID)
		require.NoError(t, store.CompleteDiscovery(ctx, scanID, types.ScanCompleted, time.Now(), len(records), ""))
		require.NoError(t, store.InsertRecords(ctx, records))
		require.NoError(t, store.MarkTaggingStarted(ctx, scanID, types.TagActionApply, time.Now()))
	}

	t.Run("groups by account, region and service", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{})
		records := []types.ResourceRecord{
			{ScanID: "tag-1", Seq: 1, AccountID: "1", Region: "us-east-1", Service: "enginefake", ResourceID: "a", Action: types.ActionKeepForTagging},
			{ScanID: "tag-1", Seq: 2, AccountID: "1", Region: "us-east-1", Service: "enginefake", ResourceID: "b", Action: types.ActionKeepForTagging},
			{ScanID: "tag-1", Seq: 3, AccountID: "1", Region: "eu-west-1", Service: "enginefake", ResourceID: "c", Action: types.ActionKeepForTagging},
			{ScanID: "tag-1", Seq: 4, AccountID: "2", Region: "us-east-1", Service: "enginefake", ResourceID: "d", Action: types.ActionKeepForTagging},
			{ScanID: "tag-1", Seq: 5, AccountID: "1", Region: "us-east-1", Service: "enginefake", ResourceID: "e", Action: types.ActionExclude},
		}
		seed(t, store, "tag-1", records)

		require.NoError(t, eng.RunTagging(ctx, "tag-1", types.TagActionApply, "owner:platform"))

		assert.Equal(t, 1, fake.calls("1/us-east-1"), "one call per group")
		assert.Equal(t, 1, fake.calls("1/eu-west-1"))
		assert.Equal(t, 1, fake.calls("2/us-east-1"))

		scan, err := store.GetScan(ctx, "tag-1")
		require.NoError(t, err)
		assert.Equal(t, types.ScanCompleted, scan.TaggingStatus)
		assert.Equal(t, 4, scan.TaggingSuccessCount, "excluded record is not tagged")
		assert.Equal(t, 0, scan.TaggingErrorCount)
	})

	t.Run("per-resource failures become tag errors", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{})
		records := []types.ResourceRecord{
			{ScanID: "tag-2", Seq: 1, AccountID: "1", Region: "us-east-1", Service: "enginefake", ResourceID: "ok", Action: types.ActionKeepForTagging},
			{ScanID: "tag-2", Seq: 2, AccountID: "1", Region: "us-east-1", Service: "enginefake", ResourceID: "poison", Action: types.ActionKeepForTagging},
		}
		seed(t, store, "tag-2", records)

		require.NoError(t, eng.RunTagging(ctx, "tag-2", types.TagActionApply, "owner:platform"))

		scan, err := store.GetScan(ctx, "tag-2")
		require.NoError(t, err)
		assert.Equal(t, 1, scan.TaggingSuccessCount)
		assert.Equal(t, 1, scan.TaggingErrorCount)

		errs, err := store.ListTagErrors(ctx, "tag-2")
		require.NoError(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, "poison", errs[0].ResourceID)
		assert.Equal(t, "resource locked", errs[0].Error)
	})

	t.Run("broker failure fans out to every record of the group", func(t *testing.T) {
		eng, store := newTestEngine(t, &fakeBroker{failAccounts: map[string]bool{"9": true}})
		records := []types.ResourceRecord{
			{ScanID: "tag-3", Seq: 1, AccountID: "9", Region: "us-east-1", Service: "enginefake", ResourceID: "a", Action: types.ActionKeepForTagging},
			{ScanID: "tag-3", Seq: 2, AccountID: "9", Region: "us-east-1", Service: "enginefake", ResourceID: "b", Action: types.ActionKeepForTagging},
		}
		seed(t, store, "tag-3", records)

		require.NoError(t, eng.RunTagging(ctx, "tag-3", types.TagActionApply, "owner:platform"))

		scan, err := store.GetScan(ctx, "tag-3")
		require.NoError(t, err)
		assert.Equal(t, types.ScanCompleted, scan.TaggingStatus)
		assert.Equal(t, 0, scan.TaggingSuccessCount)
		assert.Equal(t, 2, scan.TaggingErrorCount)

		errs, err := store.ListTagErrors(ctx, "tag-3")
		require.NoError(t, err)
		assert.Len(t, errs, 2)
	})

	t.Run("global region maps to the control region client", func(t *testing.T) {
		global := &enginefake{tagCalls: map[string]int{}}
		adapters.Register(global)
		eng, store := newTestEngine(t, &fakeBroker{})
		records := []types.ResourceRecord{
			{ScanID: "tag-4", Seq: 1, AccountID: "1", Region: "global", Service: "enginefake", ResourceID: "zone", Action: types.ActionKeepForTagging},
		}
		seed(t, store, "tag-4", records)

		require.NoError(t, eng.RunTagging(ctx, "tag-4", types.TagActionApply, "owner:platform"))
		assert.Equal(t, 1, global.calls("1/global"), "record keeps its global region label")
	})
}
