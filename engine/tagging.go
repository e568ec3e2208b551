package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/telemetry"
	"github.com/magpie-cloud/magpie/types"
)

// tagGroup is one tagging unit: all kept records sharing an account,
// region and service, tagged through a single client.
type tagGroup struct {
	accountID string
	region    string
	service   string
	records   []types.ResourceRecord
}

type taggingCounters struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

// RunTagging applies or removes tags on every KEEP_FOR_TAGGING record
// of a completed scan. Group failures degrade to per-record errors;
// the run itself only fails on storage errors.
func (e *Engine) RunTagging(ctx context.Context, scanID string, action types.TagAction, tagExpr string) error {
	log := e.log.With().Str("scan_id", scanID).Str("action", action.String()).Logger()

	records, err := e.store.RecordsForTagging(ctx, scanID)
	if err != nil {
		return e.failTagging(ctx, scanID, fmt.Errorf("load records: %w", err))
	}

	groups := groupRecords(records)
	log.Info().Int("records", len(records)).Int("groups", len(groups)).Msg("tagging started")

	outcomes := e.tagGroups(ctx, action, tagExpr, groups, log)

	var counters taggingCounters
	var tagErrs []types.TagErrorRecord
	for _, out := range outcomes {
		switch out.Status {
		case types.StatusSuccess:
			counters.Success++
		default:
			counters.Errors++
			tagErrs = append(tagErrs, types.TagErrorRecord{
				ScanID:     scanID,
				AccountID:  out.AccountID,
				Region:     out.Region,
				Service:    out.Service,
				ResourceID: out.Identifier,
				ARN:        out.ARN,
				Status:     out.Status,
				Error:      out.Error,
			})
		}
		if telemetry.TagOutcomes != nil {
			telemetry.TagOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", out.Status)))
		}
	}

	if len(tagErrs) > 0 {
		if err := e.store.InsertTagErrors(ctx, tagErrs); err != nil {
			return e.failTagging(ctx, scanID, fmt.Errorf("persist tag errors: %w", err))
		}
	}

	message, _ := json.Marshal(counters)
	if err := e.store.CompleteTagging(ctx, scanID, types.ScanCompleted, time.Now(),
		counters.Success, counters.Errors, string(message)); err != nil {
		return fmt.Errorf("complete tagging %s: %w", scanID, err)
	}

	log.Info().
		Int("success", counters.Success).
		Int("errors", counters.Errors).
		Msg("tagging completed")
	return nil
}

// groupRecords partitions records by (account, region, service),
// preserving seq order within each group.
func groupRecords(records []types.ResourceRecord) []tagGroup {
	index := make(map[string]int)
	var groups []tagGroup
	for _, r := range records {
		key := r.AccountID + "/" + r.Region + "/" + r.Service
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, tagGroup{
				accountID: r.AccountID,
				region:    r.Region,
				service:   r.Service,
			})
		}
		groups[i].records = append(groups[i].records, r)
	}
	return groups
}

func (e *Engine) tagGroups(ctx context.Context, action types.TagAction, tagExpr string, groups []tagGroup, log zerolog.Logger) []types.TagOutcome {
	groupCh := make(chan tagGroup)
	resultCh := make(chan []types.TagOutcome)

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groupCh {
				resultCh <- e.tagGroup(ctx, action, tagExpr, group, log)
			}
		}()
	}

	go func() {
		for _, group := range groups {
			groupCh <- group
		}
		close(groupCh)
		wg.Wait()
		close(resultCh)
	}()

	var outcomes []types.TagOutcome
	for batch := range resultCh {
		outcomes = append(outcomes, batch...)
	}
	return outcomes
}

// tagGroup tags one group. A failure to even build the client fans out
// to an error outcome per record so that every kept resource is
// accounted for.
func (e *Engine) tagGroup(ctx context.Context, action types.TagAction, tagExpr string, group tagGroup, log zerolog.Logger) []types.TagOutcome {
	groupLog := log.With().
		Str("account_id", group.accountID).
		Str("region", group.region).
		Str("service", group.service).
		Logger()

	adapter, err := adapters.ForService(group.service)
	if err != nil {
		return failGroup(group, err)
	}

	region := group.region
	if region == adapters.GlobalRegion {
		region = e.opts.ControlRegion
	}
	cfg, err := e.broker.ClientConfig(ctx, group.accountID, region)
	if err != nil {
		groupLog.Warn().Err(err).Msg("client config failed, failing group")
		return failGroup(group, err)
	}

	return adapter.Tag(ctx, cfg, group.accountID, group.region, group.records, tagExpr, action, groupLog)
}

func failGroup(group tagGroup, cause error) []types.TagOutcome {
	outcomes := make([]types.TagOutcome, 0, len(group.records))
	for _, r := range group.records {
		outcomes = append(outcomes, types.TagOutcome{
			AccountID:  r.AccountID,
			Region:     r.Region,
			Service:    r.Service,
			Identifier: r.ResourceID,
			ARN:        r.ARN,
			Status:     types.StatusError,
			Error:      cause.Error(),
		})
	}
	return outcomes
}

func (e *Engine) failTagging(ctx context.Context, scanID string, cause error) error {
	e.log.Error().Err(cause).Str("scan_id", scanID).Msg("tagging failed")
	if err := e.store.CompleteTagging(ctx, scanID, types.ScanFailed, time.Now(), 0, 0, cause.Error()); err != nil {
		e.log.Error().Err(err).Str("scan_id", scanID).Msg("failed to record tagging failure")
	}
	return cause
}
