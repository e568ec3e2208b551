// Package api exposes the engine's operations as a single Service used
// by the CLI commands. Discovery and tagging are started asynchronously;
// everything else answers from the store.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/catalog"
	"github.com/magpie-cloud/magpie/filter"
	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/types"
)

// Runner is the engine surface the service drives. Satisfied by
// engine.Engine; tests substitute a fake.
type Runner interface {
	RunDiscovery(ctx context.Context, scanID string, spec types.ScanSpec) error
	RunTagging(ctx context.Context, scanID string, action types.TagAction, tagExpr string) error
}

// Publisher syncs the adapter manifest to blob storage. Satisfied by
// catalog.Catalog.
type Publisher interface {
	Sync(ctx context.Context) (catalog.SyncResult, error)
	Regions() []string
}

// Service wires storage, the engine and the catalog behind the
// operation set the CLI exposes.
type Service struct {
	store   storage.Store
	runner  Runner
	catalog Publisher
	log     zerolog.Logger
}

// New builds the service.
func New(store storage.Store, runner Runner, cat Publisher, log zerolog.Logger) *Service {
	return &Service{store: store, runner: runner, catalog: cat, log: log}
}

// StartDiscovery validates and resolves the spec, creates the scan row
// and launches the run. A spec that resolves to no services or no
// regions is rejected before any scan row exists.
func (s *Service) StartDiscovery(ctx context.Context, scanID, name string, scanType types.ScanType, spec types.ScanSpec) (string, error) {
	if len(spec.Accounts) == 0 {
		return "", fmt.Errorf("scan spec names no accounts")
	}
	if _, err := filter.Parse(spec.Filter); err != nil {
		return "", fmt.Errorf("invalid filter: %w", err)
	}

	resolved := spec
	resolved.Services = adapters.Dedupe(adapters.ResolveServices(spec.Services, adapters.Catalog()))
	resolved.Regions = adapters.Dedupe(adapters.ResolveRegions(spec.Regions, s.catalog.Regions()))
	if len(resolved.Services) == 0 {
		return "", fmt.Errorf("scan spec resolves to no services")
	}
	if len(resolved.Regions) == 0 {
		return "", fmt.Errorf("scan spec resolves to no regions")
	}

	if scanID == "" {
		scanID = uuid.NewString()
	}
	if scanType == "" {
		scanType = types.ScanTypeMetadataBase
	}

	scan := &types.Scan{
		ScanID:     scanID,
		Name:       name,
		Parameters: resolved.Encode(),
		Type:       scanType,
		Status:     types.ScanInProgress,
		StartedAt:  time.Now(),
	}
	if err := s.store.CreateScan(ctx, scan); err != nil {
		return "", fmt.Errorf("create scan: %w", err)
	}

	go func() {
		if err := s.runner.RunDiscovery(context.WithoutCancel(ctx), scanID, resolved); err != nil {
			s.log.Error().Err(err).Str("scan_id", scanID).Msg("discovery run failed")
		}
	}()
	return scanID, nil
}

// DiscoveryStatus returns the scan row; consumers poll it until the
// status leaves IN_PROGRESS.
func (s *Service) DiscoveryStatus(ctx context.Context, scanID string) (*types.Scan, error) {
	return s.store.GetScan(ctx, scanID)
}

// ListScanResults pages through a scan's records, optionally narrowed
// to one action.
func (s *Service) ListScanResults(ctx context.Context, scanID string, action types.RecordAction, page, limit int) (storage.RecordPage, error) {
	if limit <= 0 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return s.store.ListRecords(ctx, scanID, action, page, limit)
}

// UpdateRecordAction overrides the classification of one record.
func (s *Service) UpdateRecordAction(ctx context.Context, scanID string, seq int, action types.RecordAction) error {
	switch action {
	case types.ActionKeepForTagging, types.ActionExclude:
	default:
		return fmt.Errorf("action must be %s or %s", types.ActionKeepForTagging, types.ActionExclude)
	}
	return s.store.UpdateRecordAction(ctx, scanID, seq, action)
}

// StartTagging launches a tagging run over the scan's kept records.
// The scan must exist with a completed discovery, and the tag
// expression must parse. APPLY requires a value per key.
func (s *Service) StartTagging(ctx context.Context, scanID string, action types.TagAction, tagExpr string) error {
	if !action.Valid() {
		return fmt.Errorf("unknown tag action %d", int(action))
	}
	pairs, err := types.ParseTagExpression(tagExpr)
	if err != nil {
		return err
	}
	if action == types.TagActionApply {
		for _, p := range pairs {
			if p.Value == "" {
				return fmt.Errorf("tag %q has no value; APPLY requires key:value pairs", p.Key)
			}
		}
	}

	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if scan.Status != types.ScanCompleted {
		return fmt.Errorf("scan %s is %s; tagging requires a completed discovery", scanID, scan.Status)
	}
	if scan.TaggingStatus == types.ScanInProgress {
		return fmt.Errorf("scan %s already has a tagging run in progress", scanID)
	}

	if err := s.store.MarkTaggingStarted(ctx, scanID, action, time.Now()); err != nil {
		return fmt.Errorf("mark tagging started: %w", err)
	}

	go func() {
		if err := s.runner.RunTagging(context.WithoutCancel(ctx), scanID, action, tagExpr); err != nil {
			s.log.Error().Err(err).Str("scan_id", scanID).Msg("tagging run failed")
		}
	}()
	return nil
}

// TaggingStatus returns the scan row; the tagging_* fields carry the
// run's state and counters.
func (s *Service) TaggingStatus(ctx context.Context, scanID string) (*types.Scan, error) {
	return s.store.GetScan(ctx, scanID)
}

// GetTagErrors lists the per-resource failures of a scan's tagging run.
func (s *Service) GetTagErrors(ctx context.Context, scanID string) ([]types.TagErrorRecord, error) {
	return s.store.ListTagErrors(ctx, scanID)
}

// GetMetadata returns one record's raw metadata document.
func (s *Service) GetMetadata(ctx context.Context, scanID string, seq int) ([]byte, error) {
	raw, err := s.store.RecordMetadata(ctx, scanID, seq)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteScan removes a scan and everything keyed to it.
func (s *Service) DeleteScan(ctx context.Context, scanID string) error {
	return s.store.DeleteScan(ctx, scanID)
}

// SyncAdapters publishes the compiled-in adapter manifest.
func (s *Service) SyncAdapters(ctx context.Context) (catalog.SyncResult, error) {
	return s.catalog.Sync(ctx)
}

// SaveProfile stores a named scan spec after validating it parses.
func (s *Service) SaveProfile(ctx context.Context, profileID, jsonProfile string) error {
	if profileID == "" {
		return fmt.Errorf("profile id is required")
	}
	if _, err := types.ParseScanSpec(jsonProfile); err != nil {
		return err
	}
	return s.store.SaveProfile(ctx, types.Profile{ProfileID: profileID, JSONProfile: jsonProfile})
}

// GetProfile fetches one profile.
func (s *Service) GetProfile(ctx context.Context, profileID string) (*types.Profile, error) {
	return s.store.GetProfile(ctx, profileID)
}

// ListProfiles lists every stored profile.
func (s *Service) ListProfiles(ctx context.Context) ([]types.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// DeleteProfile removes one profile.
func (s *Service) DeleteProfile(ctx context.Context, profileID string) error {
	return s.store.DeleteProfile(ctx, profileID)
}
