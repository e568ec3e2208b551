package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&sqsAdapter{})
}

type sqsAdapter struct{}

func (a *sqsAdapter) Service() string { return "sqs" }

func (a *sqsAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Queue": {
			ListOperation: "ListQueues",
			IDField:       "QueueUrl",
			CreatedField:  "CreatedTimestamp",
			ARNIsDirect:   true,
		},
	}
}

func (a *sqsAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Queue" {
		return unknownType("sqs", resourceType)
	}
	key := taskKey("sqs", "Queue")
	client := sqs.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := sqs.NewListQueuesPaginator(client, &sqs.ListQueuesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to list queues: %w", err))
		}
		for _, queueURL := range page.QueueUrls {
			rec, err := a.describeQueue(ctx, client, accountID, region, queueURL)
			if err != nil {
				log.Warn().Err(err).Str("queue", queueURL).Msg("queue describe failed, skipping")
				continue
			}
			records = append(records, rec)
		}
	}
	return success(key, records)
}

func (a *sqsAdapter) describeQueue(ctx context.Context, client *sqs.Client, accountID, region, queueURL string) (types.ResourceRecord, error) {
	attrs, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameQueueArn,
			sqstypes.QueueAttributeNameCreatedTimestamp,
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return types.ResourceRecord{}, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	tags := map[string]string{}
	tagOut, err := client.ListQueueTags(ctx, &sqs.ListQueueTagsInput{QueueUrl: aws.String(queueURL)})
	if err == nil {
		tags = tagOut.Tags
	}

	return record(accountID, region, "sqs", "Queue",
		queueURL, queueName(queueURL), queueCreated(attrs.Attributes), tags,
		attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)],
		attrs.Attributes, nil), nil
}

func (a *sqsAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := sqs.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagQueue(ctx, &sqs.UntagQueueInput{
				QueueUrl: aws.String(r.ResourceID),
				TagKeys:  types.TagKeys(pairs),
			})
			return err
		}
		_, err := client.TagQueue(ctx, &sqs.TagQueueInput{
			QueueUrl: aws.String(r.ResourceID),
			Tags:     types.TagMap(pairs),
		})
		return err
	})
}

func queueName(queueURL string) string {
	parts := strings.Split(queueURL, "/")
	return parts[len(parts)-1]
}

// queueCreated converts the CreatedTimestamp attribute, a unix epoch
// in seconds, to RFC3339.
func queueCreated(attrs map[string]string) string {
	raw := attrs[string(sqstypes.QueueAttributeNameCreatedTimestamp)]
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
