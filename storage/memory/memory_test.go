package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/types"
)

func seedScan(t *testing.T, s *Store, scanID string, count int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateScan(ctx, &types.Scan{
		ScanID:    scanID,
		Status:    types.ScanInProgress,
		Type:      types.ScanTypeMetadataBase,
		StartedAt: time.Now(),
	}))
	var records []types.ResourceRecord
	for i := 1; i <= count; i++ {
		records = append(records, types.ResourceRecord{
			ScanID:     scanID,
			Seq:        i,
			AccountID:  "111111111111",
			Region:     "us-east-1",
			Service:    "ec2",
			ResourceID: "i-0abc",
			Action:     types.ActionUnset,
			Metadata:   json.RawMessage(`{"item":{}}`),
		})
	}
	require.NoError(t, s.InsertRecords(ctx, records))
}

func TestScanLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	seedScan(t, s, "scan-1", 3)

	t.Run("duplicate scan id rejected", func(t *testing.T) {
		err := s.CreateScan(ctx, &types.Scan{ScanID: "scan-1"})
		assert.ErrorIs(t, err, storage.ErrDuplicateScan)
	})

	t.Run("complete discovery", func(t *testing.T) {
		ended := time.Now()
		require.NoError(t, s.CompleteDiscovery(ctx, "scan-1", types.ScanCompleted, ended, 3, ""))
		scan, err := s.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, types.ScanCompleted, scan.Status)
		assert.Equal(t, 3, scan.ResourceCount)
	})

	t.Run("tagging fields", func(t *testing.T) {
		require.NoError(t, s.MarkTaggingStarted(ctx, "scan-1", types.TagActionApply, time.Now()))
		scan, err := s.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, types.ScanInProgress, scan.TaggingStatus)
		assert.Equal(t, types.TagActionApply, scan.Action)

		require.NoError(t, s.CompleteTagging(ctx, "scan-1", types.ScanCompleted, time.Now(), 2, 1, `{"success":2,"errors":1}`))
		scan, err = s.GetScan(ctx, "scan-1")
		require.NoError(t, err)
		assert.Equal(t, 2, scan.TaggingSuccessCount)
		assert.Equal(t, 1, scan.TaggingErrorCount)
	})

	t.Run("unknown scan", func(t *testing.T) {
		_, err := s.GetScan(ctx, "nosuch")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestRecordOperations(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedScan(t, s, "scan-1", 5)
	seedScan(t, s, "scan-2", 2)

	t.Run("iterate in seq order per scan", func(t *testing.T) {
		var seqs []int
		require.NoError(t, s.IterateRecords(ctx, "scan-1", func(r types.ResourceRecord) error {
			seqs = append(seqs, r.Seq)
			return nil
		}))
		assert.Equal(t, []int{1, 2, 3, 4, 5}, seqs)
	})

	t.Run("bulk action update and filtered listing", func(t *testing.T) {
		require.NoError(t, s.UpdateActions(ctx, "scan-1", []int{1, 3, 5}, types.ActionKeepForTagging))
		require.NoError(t, s.UpdateActions(ctx, "scan-1", []int{2, 4}, types.ActionExclude))

		page, err := s.ListRecords(ctx, "scan-1", types.ActionKeepForTagging, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)

		kept, err := s.RecordsForTagging(ctx, "scan-1")
		require.NoError(t, err)
		require.Len(t, kept, 3)
		assert.Equal(t, 1, kept[0].Seq)
	})

	t.Run("paging", func(t *testing.T) {
		page, err := s.ListRecords(ctx, "scan-1", "", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 3, page.Pages)
		require.Len(t, page.Records, 2)
		assert.Equal(t, 3, page.Records[0].Seq)

		beyond, err := s.ListRecords(ctx, "scan-1", "", 9, 2)
		require.NoError(t, err)
		assert.Empty(t, beyond.Records)
	})

	t.Run("single action override", func(t *testing.T) {
		require.NoError(t, s.UpdateRecordAction(ctx, "scan-1", 2, types.ActionKeepForTagging))
		kept, err := s.RecordsForTagging(ctx, "scan-1")
		require.NoError(t, err)
		assert.Len(t, kept, 4)

		err = s.UpdateRecordAction(ctx, "scan-1", 99, types.ActionExclude)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("metadata", func(t *testing.T) {
		raw, err := s.RecordMetadata(ctx, "scan-1", 1)
		require.NoError(t, err)
		assert.JSONEq(t, `{"item":{}}`, string(raw))

		_, err = s.RecordMetadata(ctx, "scan-1", 99)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete scan leaves other scans alone", func(t *testing.T) {
		require.NoError(t, s.DeleteScan(ctx, "scan-1"))
		_, err := s.GetScan(ctx, "scan-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		var count int
		require.NoError(t, s.IterateRecords(ctx, "scan-2", func(types.ResourceRecord) error {
			count++
			return nil
		}))
		assert.Equal(t, 2, count)
	})
}

func TestTagErrorsAndProfiles(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedScan(t, s, "scan-1", 1)

	require.NoError(t, s.InsertTagErrors(ctx, []types.TagErrorRecord{
		{ScanID: "scan-1", ResourceID: "i-0abc", Error: "denied"},
	}))
	errs, err := s.ListTagErrors(ctx, "scan-1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "denied", errs[0].Error)

	require.NoError(t, s.SaveProfile(ctx, types.Profile{ProfileID: "nightly", JSONProfile: `{"accounts":["1"]}`}))
	p, err := s.GetProfile(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, `{"accounts":["1"]}`, p.JSONProfile)

	all, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteProfile(ctx, "nightly"))
	_, err = s.GetProfile(ctx, "nightly")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
