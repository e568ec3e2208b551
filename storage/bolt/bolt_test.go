package bolt

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

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

func TestScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedScan(t, s, "scan-1", 3)

	err := s.CreateScan(ctx, &types.Scan{ScanID: "scan-1"})
	assert.ErrorIs(t, err, storage.ErrDuplicateScan)

	require.NoError(t, s.CompleteDiscovery(ctx, "scan-1", types.ScanCompleted, time.Now(), 3, ""))
	scan, err := s.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, scan.Status)
	assert.Equal(t, 3, scan.ResourceCount)

	require.NoError(t, s.MarkTaggingStarted(ctx, "scan-1", types.TagActionRemove, time.Now()))
	require.NoError(t, s.CompleteTagging(ctx, "scan-1", types.ScanCompleted, time.Now(), 3, 0, ""))
	scan, err = s.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, types.TagActionRemove, scan.Action)
	assert.Equal(t, 3, scan.TaggingSuccessCount)

	err = s.CompleteDiscovery(ctx, "nosuch", types.ScanFailed, time.Now(), 0, "boom")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordKeyOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedScan(t, s, "scan-1", 300)

	// Big-endian seq keys keep cursor order numeric past one byte.
	var seqs []int
	require.NoError(t, s.IterateRecords(ctx, "scan-1", func(r types.ResourceRecord) error {
		seqs = append(seqs, r.Seq)
		return nil
	}))
	require.Len(t, seqs, 300)
	for i, seq := range seqs {
		require.Equal(t, i+1, seq)
	}
}

func TestRecordActionsAndPaging(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedScan(t, s, "scan-1", 5)

	require.NoError(t, s.UpdateActions(ctx, "scan-1", []int{1, 2}, types.ActionKeepForTagging))
	require.NoError(t, s.UpdateRecordAction(ctx, "scan-1", 3, types.ActionExclude))

	kept, err := s.RecordsForTagging(ctx, "scan-1")
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	page, err := s.ListRecords(ctx, "scan-1", types.ActionExclude, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = s.ListRecords(ctx, "scan-1", "", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Records, 1)
	assert.Equal(t, 5, page.Records[0].Seq)

	err = s.UpdateActions(ctx, "scan-1", []int{99}, types.ActionExclude)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteScanRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedScan(t, s, "scan-1", 2)
	seedScan(t, s, "scan-2", 2)

	require.NoError(t, s.InsertTagErrors(ctx, []types.TagErrorRecord{
		{ScanID: "scan-1", ResourceID: "i-0abc", Error: "denied"},
	}))

	require.NoError(t, s.DeleteScan(ctx, "scan-1"))

	_, err := s.GetScan(ctx, "scan-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	errs, err := s.ListTagErrors(ctx, "scan-1")
	require.NoError(t, err)
	assert.Empty(t, errs)

	var count int
	require.NoError(t, s.IterateRecords(ctx, "scan-2", func(types.ResourceRecord) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)
}

func TestMetadataAndProfiles(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedScan(t, s, "scan-1", 1)

	raw, err := s.RecordMetadata(ctx, "scan-1", 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"item":{}}`, string(raw))

	require.NoError(t, s.SaveProfile(ctx, types.Profile{ProfileID: "weekly", JSONProfile: `{}`}))
	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)

	require.NoError(t, s.DeleteProfile(ctx, "weekly"))
	_, err = s.GetProfile(ctx, "weekly")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "magpie.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateScan(ctx, &types.Scan{ScanID: "scan-1", Status: types.ScanCompleted}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	scan, err := s.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, types.ScanCompleted, scan.Status)
}
