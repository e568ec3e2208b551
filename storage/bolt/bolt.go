// Package bolt is an embedded bbolt-backed Store for single-node and
// development deployments. Record keys are scan_id + big-endian seq so
// cursor scans walk a scan's inventory in seq order.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/types"
)

var (
	bucketScans     = []byte("scans")
	bucketRecords   = []byte("records")
	bucketTagErrors = []byte("tag_errors")
	bucketProfiles  = []byte("profiles")
)

// Store persists everything in one bbolt file.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the store file and its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketScans, bucketRecords, bucketTagErrors, bucketProfiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func recordKey(scanID string, seq int) []byte {
	key := make([]byte, 0, len(scanID)+9)
	key = append(key, scanID...)
	key = append(key, 0x00)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(seq))
	return append(key, seqBuf[:]...)
}

func scanPrefix(scanID string) []byte {
	return append([]byte(scanID), 0x00)
}

func (s *Store) CreateScan(_ context.Context, scan *types.Scan) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketScans)
		if b.Get([]byte(scan.ScanID)) != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateScan, scan.ScanID)
		}
		raw, err := json.Marshal(scan)
		if err != nil {
			return fmt.Errorf("encode scan: %w", err)
		}
		return b.Put([]byte(scan.ScanID), raw)
	})
}

func (s *Store) GetScan(_ context.Context, scanID string) (*types.Scan, error) {
	var scan types.Scan
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketScans).Get([]byte(scanID))
		if raw == nil {
			return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
		}
		return json.Unmarshal(raw, &scan)
	})
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// mutateScan reads, patches and rewrites one scan row in a transaction.
func (s *Store) mutateScan(scanID string, patch func(*types.Scan)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketScans)
		raw := b.Get([]byte(scanID))
		if raw == nil {
			return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
		}
		var scan types.Scan
		if err := json.Unmarshal(raw, &scan); err != nil {
			return fmt.Errorf("decode scan: %w", err)
		}
		patch(&scan)
		out, err := json.Marshal(&scan)
		if err != nil {
			return fmt.Errorf("encode scan: %w", err)
		}
		return b.Put([]byte(scanID), out)
	})
}

func (s *Store) CompleteDiscovery(_ context.Context, scanID string, status types.ScanStatus, endedAt time.Time, resourceCount int, message string) error {
	return s.mutateScan(scanID, func(scan *types.Scan) {
		scan.Status = status
		scan.EndedAt = endedAt
		scan.ResourceCount = resourceCount
		scan.Message = message
	})
}

func (s *Store) MarkTaggingStarted(_ context.Context, scanID string, action types.TagAction, startedAt time.Time) error {
	return s.mutateScan(scanID, func(scan *types.Scan) {
		scan.TaggingStatus = types.ScanInProgress
		scan.TaggingStartedAt = startedAt
		scan.Action = action
	})
}

func (s *Store) CompleteTagging(_ context.Context, scanID string, status types.ScanStatus, endedAt time.Time, successCount, errorCount int, message string) error {
	return s.mutateScan(scanID, func(scan *types.Scan) {
		scan.TaggingStatus = status
		scan.TaggingEndedAt = endedAt
		scan.TaggingSuccessCount = successCount
		scan.TaggingErrorCount = errorCount
		scan.TaggingMessage = message
	})
}

func (s *Store) DeleteScan(_ context.Context, scanID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketScans).Delete([]byte(scanID)); err != nil {
			return err
		}
		for _, bucket := range [][]byte{bucketRecords, bucketTagErrors} {
			c := tx.Bucket(bucket).Cursor()
			prefix := scanPrefix(scanID)
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) InsertRecords(_ context.Context, records []types.ResourceRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		for _, r := range records {
			raw, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode record %s/%d: %w", r.ScanID, r.Seq, err)
			}
			if err := b.Put(recordKey(r.ScanID, r.Seq), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListRecords(_ context.Context, scanID string, action types.RecordAction, page, limit int) (storage.RecordPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	var matched []types.ResourceRecord
	err := s.iterate(scanID, func(r types.ResourceRecord) error {
		if action == "" || r.Action == action {
			matched = append(matched, r)
		}
		return nil
	})
	if err != nil {
		return storage.RecordPage{}, err
	}

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
	return s.iterate(scanID, fn)
}

func (s *Store) iterate(scanID string, fn func(types.ResourceRecord) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		prefix := scanPrefix(scanID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r types.ResourceRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdateRecordAction(ctx context.Context, scanID string, seq int, action types.RecordAction) error {
	return s.UpdateActions(ctx, scanID, []int{seq}, action)
}

func (s *Store) UpdateActions(_ context.Context, scanID string, seqs []int, action types.RecordAction) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		for _, seq := range seqs {
			key := recordKey(scanID, seq)
			raw := b.Get(key)
			if raw == nil {
				return fmt.Errorf("%w: record %s/%d", storage.ErrNotFound, scanID, seq)
			}
			var r types.ResourceRecord
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			r.Action = action
			out, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			if err := b.Put(key, out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RecordsForTagging(_ context.Context, scanID string) ([]types.ResourceRecord, error) {
	var keep []types.ResourceRecord
	err := s.iterate(scanID, func(r types.ResourceRecord) error {
		if r.Action == types.ActionKeepForTagging {
			keep = append(keep, r)
		}
		return nil
	})
	return keep, err
}

func (s *Store) RecordMetadata(_ context.Context, scanID string, seq int) (json.RawMessage, error) {
	var meta json.RawMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketRecords).Get(recordKey(scanID, seq))
		if raw == nil {
			return fmt.Errorf("%w: record %s/%d", storage.ErrNotFound, scanID, seq)
		}
		var r types.ResourceRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		meta = r.Metadata
		return nil
	})
	return meta, err
}

func (s *Store) InsertTagErrors(_ context.Context, errs []types.TagErrorRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTagErrors)
		for _, e := range errs {
			n, err := b.NextSequence()
			if err != nil {
				return err
			}
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode tag error: %w", err)
			}
			if err := b.Put(recordKey(e.ScanID, int(n)), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListTagErrors(_ context.Context, scanID string) ([]types.TagErrorRecord, error) {
	var out []types.TagErrorRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTagErrors).Cursor()
		prefix := scanPrefix(scanID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e types.TagErrorRecord
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode tag error: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *Store) SaveProfile(_ context.Context, profile types.Profile) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		return tx.Bucket(bucketProfiles).Put([]byte(profile.ProfileID), raw)
	})
}

func (s *Store) GetProfile(_ context.Context, profileID string) (*types.Profile, error) {
	var profile types.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketProfiles).Get([]byte(profileID))
		if raw == nil {
			return fmt.Errorf("%w: profile %s", storage.ErrNotFound, profileID)
		}
		return json.Unmarshal(raw, &profile)
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) ListProfiles(_ context.Context) ([]types.Profile, error) {
	var out []types.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(_, v []byte) error {
			var p types.Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode profile: %w", err)
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteProfile(_ context.Context, profileID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).Delete([]byte(profileID))
	})
}
