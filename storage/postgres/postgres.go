// Package postgres is the production Store: one process-wide pgx pool,
// transactional batch inserts, and row-level updates for scan state.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/types"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects a pool and runs migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool (tests, shared pools).
func NewWithPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) CreateScan(ctx context.Context, scan *types.Scan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scans (scan_id, name, parameters, type, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		scan.ScanID, scan.Name, scan.Parameters, string(scan.Type), string(scan.Status), scan.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateScan, scan.ScanID)
		}
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

func (s *Store) GetScan(ctx context.Context, scanID string) (*types.Scan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT scan_id, name, parameters, type, status, message, started_at,
		       COALESCE(ended_at, 'epoch'::timestamptz),
		       resource_count, tagging_status,
		       COALESCE(tagging_started_at, 'epoch'::timestamptz),
		       COALESCE(tagging_ended_at, 'epoch'::timestamptz),
		       tagging_message, tagging_success_count, tagging_error_count, action
		FROM scans WHERE scan_id = $1`, scanID)

	var scan types.Scan
	var scanType, status, taggingStatus string
	var action int16
	err := row.Scan(&scan.ScanID, &scan.Name, &scan.Parameters, &scanType, &status, &scan.Message,
		&scan.StartedAt, &scan.EndedAt, &scan.ResourceCount, &taggingStatus,
		&scan.TaggingStartedAt, &scan.TaggingEndedAt, &scan.TaggingMessage,
		&scan.TaggingSuccessCount, &scan.TaggingErrorCount, &action)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	if err != nil {
		return nil, fmt.Errorf("select scan: %w", err)
	}
	scan.Type = types.ScanType(scanType)
	scan.Status = types.ScanStatus(status)
	scan.TaggingStatus = types.ScanStatus(taggingStatus)
	scan.Action = types.TagAction(action)
	return &scan, nil
}

func (s *Store) CompleteDiscovery(ctx context.Context, scanID string, status types.ScanStatus, endedAt time.Time, resourceCount int, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scans SET status = $2, ended_at = $3, resource_count = $4, message = $5
		WHERE scan_id = $1`,
		scanID, string(status), endedAt, resourceCount, message)
	if err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	return nil
}

func (s *Store) MarkTaggingStarted(ctx context.Context, scanID string, action types.TagAction, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scans SET tagging_status = $2, tagging_started_at = $3, action = $4
		WHERE scan_id = $1`,
		scanID, string(types.ScanInProgress), startedAt, int16(action))
	if err != nil {
		return fmt.Errorf("update scan tagging: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	return nil
}

func (s *Store) CompleteTagging(ctx context.Context, scanID string, status types.ScanStatus, endedAt time.Time, successCount, errorCount int, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scans SET tagging_status = $2, tagging_ended_at = $3,
		       tagging_success_count = $4, tagging_error_count = $5, tagging_message = $6
		WHERE scan_id = $1`,
		scanID, string(status), endedAt, successCount, errorCount, message)
	if err != nil {
		return fmt.Errorf("update scan tagging: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scan %s", storage.ErrNotFound, scanID)
	}
	return nil
}

func (s *Store) DeleteScan(ctx context.Context, scanID string) error {
	// resources and tag_errors cascade.
	if _, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE scan_id = $1`, scanID); err != nil {
		return fmt.Errorf("delete scan: %w", err)
	}
	return nil
}

func (s *Store) InsertRecords(ctx context.Context, records []types.ResourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, r := range records {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return fmt.Errorf("encode tags for %s/%d: %w", r.ScanID, r.Seq, err)
		}
		batch.Queue(`
			INSERT INTO resources (scan_id, seq, account_id, region, service, resource_type,
			                       resource_id, name, creation_date, tags, tags_number,
			                       metadata, arn, action)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			r.ScanID, r.Seq, r.AccountID, r.Region, r.Service, r.ResourceType,
			r.ResourceID, r.Name, r.CreationDate, tags, r.TagsNumber,
			r.Metadata, r.ARN, string(r.Action))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert record batch: %w", err)
	}
	return tx.Commit(ctx)
}

const recordColumns = `scan_id, seq, account_id, region, service, resource_type,
	resource_id, name, creation_date, tags, tags_number, arn, action`

func scanRecord(row pgx.Row) (types.ResourceRecord, error) {
	var r types.ResourceRecord
	var tags []byte
	var action string
	err := row.Scan(&r.ScanID, &r.Seq, &r.AccountID, &r.Region, &r.Service, &r.ResourceType,
		&r.ResourceID, &r.Name, &r.CreationDate, &tags, &r.TagsNumber, &r.ARN, &action)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(tags, &r.Tags); err != nil {
		return r, fmt.Errorf("decode tags: %w", err)
	}
	r.Action = types.RecordAction(action)
	return r, nil
}

func (s *Store) ListRecords(ctx context.Context, scanID string, action types.RecordAction, page, limit int) (storage.RecordPage, error) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	var total int
	countQuery := `SELECT count(*) FROM resources WHERE scan_id = $1`
	args := []any{scanID}
	if action != "" {
		countQuery += ` AND action = $2`
		args = append(args, string(action))
	}
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return storage.RecordPage{}, fmt.Errorf("count records: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM resources WHERE scan_id = $1`
	if action != "" {
		query += ` AND action = $2`
	}
	query += fmt.Sprintf(` ORDER BY seq LIMIT %d OFFSET %d`, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return storage.RecordPage{}, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var records []types.ResourceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return storage.RecordPage{}, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return storage.RecordPage{}, fmt.Errorf("iterate records: %w", err)
	}

	pages := (total + limit - 1) / limit
	return storage.RecordPage{Records: records, Pages: pages, Total: total}, nil
}

func (s *Store) IterateRecords(ctx context.Context, scanID string, fn func(types.ResourceRecord) error) error {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM resources WHERE scan_id = $1 ORDER BY seq`, scanID)
	if err != nil {
		return fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) UpdateRecordAction(ctx context.Context, scanID string, seq int, action types.RecordAction) error {
	tag, err := s.pool.Exec(ctx, `UPDATE resources SET action = $3 WHERE scan_id = $1 AND seq = $2`,
		scanID, seq, string(action))
	if err != nil {
		return fmt.Errorf("update record action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: record %s/%d", storage.ErrNotFound, scanID, seq)
	}
	return nil
}

func (s *Store) UpdateActions(ctx context.Context, scanID string, seqs []int, action types.RecordAction) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE resources SET action = $3 WHERE scan_id = $1 AND seq = ANY($2)`,
		scanID, seqs, string(action))
	if err != nil {
		return fmt.Errorf("update record actions: %w", err)
	}
	return nil
}

func (s *Store) RecordsForTagging(ctx context.Context, scanID string) ([]types.ResourceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM resources
		WHERE scan_id = $1 AND action = $2 ORDER BY seq`,
		scanID, string(types.ActionKeepForTagging))
	if err != nil {
		return nil, fmt.Errorf("select tagging records: %w", err)
	}
	defer rows.Close()

	var records []types.ResourceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) RecordMetadata(ctx context.Context, scanID string, seq int) (json.RawMessage, error) {
	var meta []byte
	err := s.pool.QueryRow(ctx, `SELECT metadata FROM resources WHERE scan_id = $1 AND seq = $2`,
		scanID, seq).Scan(&meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s/%d", storage.ErrNotFound, scanID, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("select metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) InsertTagErrors(ctx context.Context, errs []types.TagErrorRecord) error {
	if len(errs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range errs {
		batch.Queue(`
			INSERT INTO tag_errors (scan_id, account_id, region, service, resource_id, arn, status, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ScanID, e.AccountID, e.Region, e.Service, e.ResourceID, e.ARN, e.Status, e.Error)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert tag errors: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ListTagErrors(ctx context.Context, scanID string) ([]types.TagErrorRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scan_id, account_id, region, service, resource_id, arn, status, error
		FROM tag_errors WHERE scan_id = $1 ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("select tag errors: %w", err)
	}
	defer rows.Close()

	var out []types.TagErrorRecord
	for rows.Next() {
		var e types.TagErrorRecord
		if err := rows.Scan(&e.ScanID, &e.AccountID, &e.Region, &e.Service,
			&e.ResourceID, &e.ARN, &e.Status, &e.Error); err != nil {
			return nil, fmt.Errorf("scan tag error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SaveProfile(ctx context.Context, profile types.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (profile_id, json_profile) VALUES ($1, $2)
		ON CONFLICT (profile_id) DO UPDATE SET json_profile = EXCLUDED.json_profile`,
		profile.ProfileID, profile.JSONProfile)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, profileID string) (*types.Profile, error) {
	var p types.Profile
	err := s.pool.QueryRow(ctx, `SELECT profile_id, json_profile FROM profiles WHERE profile_id = $1`,
		profileID).Scan(&p.ProfileID, &p.JSONProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile %s", storage.ErrNotFound, profileID)
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]types.Profile, error) {
	rows, err := s.pool.Query(ctx, `SELECT profile_id, json_profile FROM profiles ORDER BY profile_id`)
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	defer rows.Close()

	var out []types.Profile
	for rows.Next() {
		var p types.Profile
		if err := rows.Scan(&p.ProfileID, &p.JSONProfile); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProfile(ctx context.Context, profileID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM profiles WHERE profile_id = $1`, profileID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}
