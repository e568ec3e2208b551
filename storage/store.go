// Package storage defines the persistence contract shared by the
// discovery and tagging engines: one scans row per scan, resource rows
// keyed by (scan_id, seq), per-resource tag error rows, and named
// profiles. Three implementations live in subpackages: postgres (the
// production store), bolt (embedded single-node) and memory (tests and
// ephemeral runs).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/magpie-cloud/magpie/types"
)

var (
	// ErrNotFound is returned for missing scans, records or profiles.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateScan is returned on a scan_id collision; the engine
	// treats it as fatal.
	ErrDuplicateScan = errors.New("scan already exists")
)

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records []types.ResourceRecord
	Pages   int
	Total   int
}

// Store is the engine-facing persistence contract. All writes that
// span multiple rows are transactional per call; a failed call leaves
// other in-flight writes untouched.
type Store interface {
	CreateScan(ctx context.Context, scan *types.Scan) error
	GetScan(ctx context.Context, scanID string) (*types.Scan, error)
	CompleteDiscovery(ctx context.Context, scanID string, status types.ScanStatus, endedAt time.Time, resourceCount int, message string) error
	MarkTaggingStarted(ctx context.Context, scanID string, action types.TagAction, startedAt time.Time) error
	CompleteTagging(ctx context.Context, scanID string, status types.ScanStatus, endedAt time.Time, successCount, errorCount int, message string) error
	DeleteScan(ctx context.Context, scanID string) error

	// InsertRecords persists one batch; the engine controls batch size.
	InsertRecords(ctx context.Context, records []types.ResourceRecord) error
	ListRecords(ctx context.Context, scanID string, action types.RecordAction, page, limit int) (RecordPage, error)
	// IterateRecords streams every record of a scan in seq order; used
	// by the classification pass.
	IterateRecords(ctx context.Context, scanID string, fn func(types.ResourceRecord) error) error
	UpdateRecordAction(ctx context.Context, scanID string, seq int, action types.RecordAction) error
	// UpdateActions applies one action to many seqs in a single call.
	UpdateActions(ctx context.Context, scanID string, seqs []int, action types.RecordAction) error
	RecordsForTagging(ctx context.Context, scanID string) ([]types.ResourceRecord, error)
	RecordMetadata(ctx context.Context, scanID string, seq int) (json.RawMessage, error)

	InsertTagErrors(ctx context.Context, errs []types.TagErrorRecord) error
	ListTagErrors(ctx context.Context, scanID string) ([]types.TagErrorRecord, error)

	SaveProfile(ctx context.Context, profile types.Profile) error
	GetProfile(ctx context.Context, profileID string) (*types.Profile, error)
	ListProfiles(ctx context.Context) ([]types.Profile, error)
	DeleteProfile(ctx context.Context, profileID string) error

	Close() error
}
