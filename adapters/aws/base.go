// Package aws holds the service adapters. Each file contributes one
// adapter and registers it from init; the package is imported for side
// effects by the binary.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func taskKey(service, rtype string) string {
	return service + ":" + rtype
}

func success(key string, records []types.ResourceRecord) adapters.DiscoverResult {
	return adapters.DiscoverResult{Key: key, Status: types.StatusSuccess, Records: records}
}

// failure classifies a list error. Authorization denial and regional
// unavailability mean the account simply has nothing readable here, so
// the task yields an empty inventory; everything else is a fault
// surfaced to the engine.
func failure(key string, err error) adapters.DiscoverResult {
	if denied(err) {
		return adapters.DiscoverResult{Key: key, Status: types.StatusSuccess, Message: err.Error()}
	}
	return adapters.DiscoverResult{Key: key, Status: types.StatusError, Message: err.Error()}
}

func unknownType(service, rtype string) adapters.DiscoverResult {
	return failure(taskKey(service, rtype), fmt.Errorf("unknown resource type %q for service %s", rtype, service))
}

// record builds a fully-populated resource row. Every adapter funnels
// through here so the engine sees a uniform shape.
func record(accountID, region, service, rtype, id, name, created string, tags map[string]string, arn string, item any, extra map[string]any) types.ResourceRecord {
	if tags == nil {
		tags = map[string]string{}
	}
	if name == "" {
		name = tags["Name"]
	}
	return types.ResourceRecord{
		AccountID:    accountID,
		Region:       region,
		Service:      service,
		ResourceType: rtype,
		ResourceID:   id,
		Name:         name,
		CreationDate: created,
		Tags:         tags,
		TagsNumber:   len(tags),
		Metadata:     types.EncodeMetadata(item, extra),
		ARN:          arn,
		Action:       types.ActionUnset,
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtMillis(ms *int64) string {
	if ms == nil {
		return ""
	}
	return time.UnixMilli(*ms).UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// denied reports whether the error means the assumed role cannot read
// this service, or the service is not subscribed or opted in for the
// account in this region.
func denied(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "UnauthorizedOperation", "AccessDenied", "AccessDeniedException",
		"AuthFailure", "UnrecognizedClientException", "OptInRequired",
		"SubscriptionRequiredException", "InvalidClientTokenId":
		return true
	}
	return false
}

// throttled reports whether the error is a rate limit the SDK did not
// absorb; those are worth our own retry on top of adaptive retry.
func throttled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException", "SlowDown":
		return true
	}
	return false
}

// withRetry runs a tagging call, retrying only throttles.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if throttled(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// tagEach runs one tagging call per record and collects one outcome
// per record, never stopping on failure.
func tagEach(ctx context.Context, records []types.ResourceRecord, log zerolog.Logger, apply func(context.Context, types.ResourceRecord) error) []types.TagOutcome {
	outcomes := make([]types.TagOutcome, 0, len(records))
	for _, r := range records {
		err := withRetry(ctx, func() error { return apply(ctx, r) })
		out := types.TagOutcome{
			AccountID:  r.AccountID,
			Region:     r.Region,
			Service:    r.Service,
			Identifier: r.ResourceID,
			ARN:        r.ARN,
			Status:     types.StatusSuccess,
		}
		if err != nil {
			out.Status = types.StatusError
			out.Error = err.Error()
			log.Warn().Err(err).Str("resource_id", r.ResourceID).Msg("tag call failed")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// parsePairs decodes the tag expression once per group, failing every
// record when it is malformed.
func parsePairs(tagExpr string, records []types.ResourceRecord) ([]types.TagPair, []types.TagOutcome) {
	pairs, err := types.ParseTagExpression(tagExpr)
	if err == nil {
		return pairs, nil
	}
	outcomes := make([]types.TagOutcome, 0, len(records))
	for _, r := range records {
		outcomes = append(outcomes, types.TagOutcome{
			AccountID:  r.AccountID,
			Region:     r.Region,
			Service:    r.Service,
			Identifier: r.ResourceID,
			ARN:        r.ARN,
			Status:     types.StatusError,
			Error:      err.Error(),
		})
	}
	return nil, outcomes
}
