// Package memory is an in-memory Store used by unit tests and
// ephemeral runs. Records are kept in a btree ordered by
// (scan_id, seq) so iteration and paging match the durable stores.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/types"
)

type recordItem struct {
	record types.ResourceRecord
}

func recordLess(a, b recordItem) bool {
	if a.record.ScanID != b.record.ScanID {
		return a.record.ScanID < b.record.ScanID
	}
	return a.record.Seq < b.record.Seq
}

// Store keeps everything in process memory.
type Store struct {
	mu        sync.RWMutex
	scans     map[string]types.Scan
	records   *btree.BTreeG[recordItem]
	tagErrors map[string][]types.TagErrorRecord
	profiles  map[string]types.Profile
}

var _ storage.Store = (*Store)(nil)

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		scans:     make(map[string]types.Scan),
		records:   btree.NewG(8, recordLess),
		tagErrors: make(map[string][]types.TagErrorRecord),
		profiles:  make(map[string]types.Profile),
	}
}

func (s *Store) CreateScan(_ context.Context, scan *types.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[scan.ScanID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateScan, scan.ScanID)
	}
	s.scans[scan.ScanID] = *scan
	return nil
}

func (s *Store) GetScan(_ context.Context, scanID string) (*types.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return nil, fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	return &scan, nil
}

func (s *Store) CompleteDiscovery(_ context.Context, scanID string, status types.ScanStatus, endedAt time.Time, resourceCount int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	scan.Status = status
	scan.EndedAt = endedAt
	scan.ResourceCount = resourceCount
	scan.Message = message
	s.scans[scanID] = scan
	return nil
}

func (s *Store) MarkTaggingStarted(_ context.Context, scanID string, action types.TagAction, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	scan.TaggingStatus = types.ScanInProgress
	scan.TaggingStartedAt = startedAt
	scan.Action = action
	s.scans[scanID] = scan
	return nil
}

func (s *Store) CompleteTagging(_ context.Context, scanID string, status types.ScanStatus, endedAt time.Time, successCount, errorCount int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	scan.TaggingStatus = status
	scan.TaggingEndedAt = endedAt
	scan.TaggingSuccessCount = successCount
	scan.TaggingErrorCount = errorCount
	scan.TaggingMessage = message
	s.scans[scanID] = scan
	return nil
}

func (s *Store) DeleteScan(_ context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scans, scanID)
	delete(s.tagErrors, scanID)
	var doomed []recordItem
	s.ascendScan(scanID, func(item recordItem) bool {
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		s.records.Delete(item)
	}
	return nil
}

func (s *Store) InsertRecords(_ context.Context, records []types.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records.ReplaceOrInsert(recordItem{record: r})
	}
	return nil
}

func (s *Store) ListRecords(_ context.Context, scanID string, action types.RecordAction, page, limit int) (storage.RecordPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []types.ResourceRecord
	s.ascendScan(scanID, func(item recordItem) bool {
		if action == "" || item.record.Action == action {
			matched = append(matched, item.record)
		}
		return true
	})

	total := len(matched)
	pages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start >= total {
		return storage.RecordPage{Pages: pages, Total: total}, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return storage.RecordPage{Records: matched[start:end], Pages: pages, Total: total}, nil
}

func (s *Store) IterateRecords(_ context.Context, scanID string, fn func(types.ResourceRecord) error) error {
	s.mu.RLock()
	var all []types.ResourceRecord
	s.ascendScan(scanID, func(item recordItem) bool {
		all = append(all, item.record)
		return true
	})
	s.mu.RUnlock()

	for _, r := range all {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateRecordAction(_ context.Context, scanID string, seq int, action types.RecordAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAction(scanID, seq, action)
}

func (s *Store) UpdateActions(_ context.Context, scanID string, seqs []int, action types.RecordAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range seqs {
		if err := s.setAction(scanID, seq, action); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setAction(scanID string, seq int, action types.RecordAction) error {
	key := recordItem{record: types.ResourceRecord{ScanID: scanID, Seq: seq}}
	item, ok := s.records.Get(key)
	if !ok {
		return fmt.Errorf("%w: record %s/%d", storage.ErrNotFound, scanID, seq)
	}
	item.record.Action = action
	s.records.ReplaceOrInsert(item)
	return nil
}

func (s *Store) RecordsForTagging(_ context.Context, scanID string) ([]types.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keep []types.ResourceRecord
	s.ascendScan(scanID, func(item recordItem) bool {
		if item.record.Action == types.ActionKeepForTagging {
			keep = append(keep, item.record)
		}
		return true
	})
	return keep, nil
}

func (s *Store) RecordMetadata(_ context.Context, scanID string, seq int) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := recordItem{record: types.ResourceRecord{ScanID: scanID, Seq: seq}}
	item, ok := s.records.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: record %s/%d", storage.ErrNotFound, scanID, seq)
	}
	return item.record.Metadata, nil
}

func (s *Store) InsertTagErrors(_ context.Context, errs []types.TagErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range errs {
		s.tagErrors[e.ScanID] = append(s.tagErrors[e.ScanID], e)
	}
	return nil
}

func (s *Store) ListTagErrors(_ context.Context, scanID string) ([]types.TagErrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.TagErrorRecord(nil), s.tagErrors[scanID]...), nil
}

func (s *Store) SaveProfile(_ context.Context, profile types.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ProfileID] = profile
	return nil
}

func (s *Store) GetProfile(_ context.Context, profileID string) (*types.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", storage.ErrNotFound, profileID)
	}
	return &p, nil
}

func (s *Store) ListProfiles(_ context.Context) ([]types.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]types.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *Store) DeleteProfile(_ context.Context, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, profileID)
	return nil
}

func (s *Store) Close() error { return nil }

// ascendScan visits records of one scan in seq order. Callers hold the
// appropriate lock.
func (s *Store) ascendScan(scanID string, fn func(recordItem) bool) {
	pivot := recordItem{record: types.ResourceRecord{ScanID: scanID, Seq: 0}}
	s.records.AscendGreaterOrEqual(pivot, func(item recordItem) bool {
		if item.record.ScanID != scanID {
			return false
		}
		return fn(item)
	})
}
