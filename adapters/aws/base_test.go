package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-cloud/magpie/types"
)

func TestRecord(t *testing.T) {
	t.Run("nil tags become an empty map", func(t *testing.T) {
		r := record("1", "us-east-1", "ec2", "Instance", "i-0abc", "web", "", nil, "arn:...", nil, nil)
		require.NotNil(t, r.Tags)
		assert.Equal(t, 0, r.TagsNumber)
		assert.Equal(t, types.ActionUnset, r.Action)
	})

	t.Run("name falls back to the Name tag", func(t *testing.T) {
		r := record("1", "us-east-1", "ec2", "Instance", "i-0abc", "",
			"", map[string]string{"Name": "web-1"}, "", nil, nil)
		assert.Equal(t, "web-1", r.Name)
		assert.Equal(t, 1, r.TagsNumber)
	})

	t.Run("extra lands in the metadata document", func(t *testing.T) {
		r := record("1", "us-east-1", "rds", "DBClusterSnapshot", "snap-1", "",
			"", nil, "", struct{}{}, map[string]any{"db_cluster": "c1"})
		assert.Contains(t, string(r.Metadata), "db_cluster")
	})
}

func TestTimeFormatting(t *testing.T) {
	assert.Empty(t, fmtTime(nil))
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-01T12:00:00Z", fmtTime(&ts))

	assert.Empty(t, fmtMillis(nil))
	ms := ts.UnixMilli()
	assert.Equal(t, "2024-03-01T12:00:00Z", fmtMillis(&ms))
}

type fakeAPIError struct {
	code string
}

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestThrottled(t *testing.T) {
	assert.True(t, throttled(&fakeAPIError{code: "Throttling"}))
	assert.True(t, throttled(&fakeAPIError{code: "RequestLimitExceeded"}))
	assert.False(t, throttled(&fakeAPIError{code: "AccessDenied"}))
	assert.False(t, throttled(errors.New("not an api error")))
}

func TestDenied(t *testing.T) {
	for _, code := range []string{
		"UnauthorizedOperation", "AccessDenied", "AccessDeniedException",
		"AuthFailure", "UnrecognizedClientException", "OptInRequired",
		"SubscriptionRequiredException", "InvalidClientTokenId",
	} {
		assert.True(t, denied(&fakeAPIError{code: code}), code)
	}
	assert.False(t, denied(&fakeAPIError{code: "InvalidParameterValue"}))
	assert.False(t, denied(errors.New("connection refused")))
}

func TestFailureClassification(t *testing.T) {
	t.Run("denial lists as empty success", func(t *testing.T) {
		result := failure("ec2:Instance", &fakeAPIError{code: "AccessDeniedException"})
		assert.Equal(t, types.StatusSuccess, result.Status)
		assert.Empty(t, result.Records)
	})

	t.Run("opt-in-required region lists as empty success", func(t *testing.T) {
		result := failure("ec2:Instance", &fakeAPIError{code: "OptInRequired"})
		assert.Equal(t, types.StatusSuccess, result.Status)
	})

	t.Run("api fault stays an error", func(t *testing.T) {
		result := failure("ec2:Instance", &fakeAPIError{code: "InternalError"})
		assert.Equal(t, types.StatusError, result.Status)
		assert.Contains(t, result.Message, "InternalError")
	})
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("non-throttle errors are permanent", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, func() error {
			calls++
			return &fakeAPIError{code: "AccessDenied"}
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("throttles are retried until success", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, func() error {
			calls++
			if calls < 3 {
				return &fakeAPIError{code: "ThrottlingException"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})
}

func TestTagEach(t *testing.T) {
	records := []types.ResourceRecord{
		{AccountID: "1", Region: "us-east-1", Service: "ec2", ResourceID: "i-ok"},
		{AccountID: "1", Region: "us-east-1", Service: "ec2", ResourceID: "i-bad"},
	}
	outcomes := tagEach(context.Background(), records, zerolog.Nop(), func(_ context.Context, r types.ResourceRecord) error {
		if r.ResourceID == "i-bad" {
			return &fakeAPIError{code: "InvalidID.NotFound"}
		}
		return nil
	})
	require.Len(t, outcomes, 2)
	assert.Equal(t, types.StatusSuccess, outcomes[0].Status)
	assert.Equal(t, types.StatusError, outcomes[1].Status)
	assert.Equal(t, "i-bad", outcomes[1].Identifier)
}

func TestParsePairs(t *testing.T) {
	records := []types.ResourceRecord{{ResourceID: "a"}, {ResourceID: "b"}}

	pairs, outcomes := parsePairs("env:prod,owner:platform", records)
	require.Nil(t, outcomes)
	require.Len(t, pairs, 2)
	assert.Equal(t, "env", pairs[0].Key)

	pairs, outcomes = parsePairs(":novalue", records)
	assert.Nil(t, pairs)
	require.Len(t, outcomes, 2, "a bad expression fails every record")
	assert.Equal(t, types.StatusError, outcomes[0].Status)
}

func TestServiceHelpers(t *testing.T) {
	t.Run("ec2 tag map", func(t *testing.T) {
		m := ec2TagMap([]ec2types.Tag{
			{Key: aws.String("Name"), Value: aws.String("web")},
			{Key: aws.String("env"), Value: aws.String("prod")},
		})
		assert.Equal(t, map[string]string{"Name": "web", "env": "prod"}, m)
	})

	t.Run("hosted zone id strips the prefix", func(t *testing.T) {
		assert.Equal(t, "Z0ABC", zoneID("/hostedzone/Z0ABC"))
		assert.Equal(t, "Z0ABC", zoneID("Z0ABC"))
	})

	t.Run("log group arn drops the wildcard suffix", func(t *testing.T) {
		assert.Equal(t,
			"arn:aws:logs:us-east-1:1:log-group:/app/api",
			logGroupARN("arn:aws:logs:us-east-1:1:log-group:/app/api:*"))
	})

	t.Run("queue name is the url tail", func(t *testing.T) {
		assert.Equal(t, "jobs", queueName("https://sqs.us-east-1.amazonaws.com/111111111111/jobs"))
	})

	t.Run("queue created parses epoch seconds", func(t *testing.T) {
		assert.Equal(t, "2024-03-01T12:00:00Z", queueCreated(map[string]string{
			"CreatedTimestamp": "1709294400",
		}))
		assert.Empty(t, queueCreated(map[string]string{"CreatedTimestamp": "soon"}))
		assert.Empty(t, queueCreated(nil))
	})
}
