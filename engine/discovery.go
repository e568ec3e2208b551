package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/filter"
	"github.com/magpie-cloud/magpie/telemetry"
	"github.com/magpie-cloud/magpie/types"
)

// discoveryTask is one unit of fan-out: plain data plus the cached
// session for its account.
type discoveryTask struct {
	cfg          aws.Config
	accountID    string
	region       string
	service      string
	resourceType string
}

// RunDiscovery executes one scan to its terminal state. The scan row
// must already exist with status IN_PROGRESS. Services and regions are
// expected to be resolved; unknown selectors were already dropped.
func (e *Engine) RunDiscovery(ctx context.Context, scanID string, spec types.ScanSpec) error {
	log := e.log.With().Str("scan_id", scanID).Logger()
	started := time.Now()

	// A bad filter fails the scan before any cloud call.
	expr, err := filter.Parse(spec.Filter)
	if err != nil {
		return e.failScan(ctx, scanID, 0, fmt.Errorf("invalid filter: %w", err))
	}

	tasks := e.buildTasks(ctx, spec, log)
	log.Info().
		Int("accounts", len(spec.Accounts)).
		Int("regions", len(spec.Regions)).
		Int("services", len(spec.Services)).
		Int("tasks", len(tasks)).
		Msg("discovery started")

	records := e.collect(ctx, tasks, log)

	persisted, err := e.persist(ctx, scanID, records)
	if err != nil {
		return e.failScan(ctx, scanID, persisted, fmt.Errorf("persist records: %w", err))
	}

	if err := e.store.CompleteDiscovery(ctx, scanID, types.ScanCompleted, time.Now(), len(records), ""); err != nil {
		return fmt.Errorf("complete scan %s: %w", scanID, err)
	}

	if err := e.classify(ctx, scanID, expr); err != nil {
		return e.failScan(ctx, scanID, len(records), fmt.Errorf("classify records: %w", err))
	}

	if telemetry.ScanDuration != nil {
		telemetry.ScanDuration.Record(ctx, time.Since(started).Seconds())
	}
	log.Info().
		Int("resource_count", len(records)).
		Dur("duration", time.Since(started)).
		Msg("discovery completed")
	return nil
}

// buildTasks assumes a role per account and expands the task set
// A x R x S. An account whose role assumption fails is skipped, not
// fatal. Globally-scoped resource types are scheduled once per account
// rather than once per region.
func (e *Engine) buildTasks(ctx context.Context, spec types.ScanSpec, log zerolog.Logger) []discoveryTask {
	var tasks []discoveryTask
	for _, account := range spec.Accounts {
		cfg, err := e.broker.Assume(ctx, account)
		if err != nil {
			log.Warn().Err(err).Str("account_id", account).Msg("role assumption failed, skipping account")
			continue
		}
		for _, key := range spec.Services {
			service, rtype := types.SplitServiceKey(key)
			if rtype == "" {
				continue
			}
			if e.isGlobal(service, rtype) {
				tasks = append(tasks, discoveryTask{
					cfg: cfg, accountID: account,
					region: e.opts.ControlRegion, service: service, resourceType: rtype,
				})
				continue
			}
			for _, region := range spec.Regions {
				tasks = append(tasks, discoveryTask{
					cfg: cfg, accountID: account,
					region: region, service: service, resourceType: rtype,
				})
			}
		}
	}
	return tasks
}

func (e *Engine) isGlobal(service, rtype string) bool {
	adapter, err := adapters.ForService(service)
	if err != nil {
		return false
	}
	cfg, ok := adapter.ServiceTypes()[rtype]
	return ok && cfg.Global
}

// collect fans the tasks onto the worker pool and drains results in
// completion order. Per-task errors are logged and counted, never
// fatal; the drain order is what seq assignment will follow.
func (e *Engine) collect(ctx context.Context, tasks []discoveryTask, log zerolog.Logger) []types.ResourceRecord {
	taskCh := make(chan discoveryTask)
	resultCh := make(chan adapters.DiscoverResult)

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				resultCh <- e.runTask(ctx, task, log)
			}
		}()
	}

	go func() {
		for _, task := range tasks {
			taskCh <- task
		}
		close(taskCh)
		wg.Wait()
		close(resultCh)
	}()

	var records []types.ResourceRecord
	for result := range resultCh {
		status := result.Status
		if status == types.StatusError {
			log.Warn().Str("task", result.Key).Str("message", result.Message).Msg("discovery task failed")
		}
		if telemetry.DiscoveryTasks != nil {
			telemetry.DiscoveryTasks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		}
		records = append(records, result.Records...)
	}
	if telemetry.RecordsDiscovered != nil {
		telemetry.RecordsDiscovered.Add(ctx, int64(len(records)))
	}
	return records
}

func (e *Engine) runTask(ctx context.Context, task discoveryTask, log zerolog.Logger) adapters.DiscoverResult {
	adapter, err := adapters.ForService(task.service)
	if err != nil {
		return adapters.DiscoverResult{
			Key:     task.service + ":" + task.resourceType,
			Status:  types.StatusError,
			Message: err.Error(),
		}
	}

	cfg := task.cfg.Copy()
	cfg.Region = task.region

	taskLog := log.With().
		Str("account_id", task.accountID).
		Str("region", task.region).
		Str("service", task.service).
		Str("resource_type", task.resourceType).
		Logger()
	return adapter.Discover(ctx, cfg, task.accountID, task.region, task.resourceType, taskLog)
}

// persist assigns seq in drain order and writes records in batches.
// Batching is the secondary backpressure mechanism and is never
// bypassed, whatever the record count. Returns how many records made
// it to storage so a failure keeps the scan row's count honest.
func (e *Engine) persist(ctx context.Context, scanID string, records []types.ResourceRecord) (int, error) {
	for i := range records {
		records[i].ScanID = scanID
		records[i].Seq = i + 1
		if records[i].Action == "" {
			records[i].Action = types.ActionUnset
		}
	}
	for start := 0; start < len(records); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := e.store.InsertRecords(ctx, records[start:end]); err != nil {
			return start, err
		}
	}
	return len(records), nil
}

// classify sets every record's action from the filter, in batches.
func (e *Engine) classify(ctx context.Context, scanID string, expr filter.Expr) error {
	var keep, exclude []int
	err := e.store.IterateRecords(ctx, scanID, func(r types.ResourceRecord) error {
		match, err := filter.Matches(expr, r)
		if err != nil {
			return err
		}
		if match {
			keep = append(keep, r.Seq)
		} else {
			exclude = append(exclude, r.Seq)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := e.updateActionsBatched(ctx, scanID, keep, types.ActionKeepForTagging); err != nil {
		return err
	}
	return e.updateActionsBatched(ctx, scanID, exclude, types.ActionExclude)
}

func (e *Engine) updateActionsBatched(ctx context.Context, scanID string, seqs []int, action types.RecordAction) error {
	for start := 0; start < len(seqs); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(seqs) {
			end = len(seqs)
		}
		if err := e.store.UpdateActions(ctx, scanID, seqs[start:end], action); err != nil {
			return err
		}
	}
	return nil
}

// failScan marks the scan FAILED, keeping the count of records that
// were already persisted.
func (e *Engine) failScan(ctx context.Context, scanID string, resourceCount int, cause error) error {
	e.log.Error().Err(cause).Str("scan_id", scanID).Msg("discovery failed")
	if err := e.store.CompleteDiscovery(ctx, scanID, types.ScanFailed, time.Now(), resourceCount, cause.Error()); err != nil {
		e.log.Error().Err(err).Str("scan_id", scanID).Msg("failed to record scan failure")
	}
	return cause
}
