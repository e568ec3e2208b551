package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&logsAdapter{})
}

type logsAdapter struct{}

func (a *logsAdapter) Service() string { return "logs" }

func (a *logsAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"LogGroup": {
			ListOperation: "DescribeLogGroups",
			IDField:       "LogGroupName",
			NameField:     "LogGroupName",
			CreatedField:  "CreationTime",
			ARNIsDirect:   true,
		},
	}
}

func (a *logsAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "LogGroup" {
		return unknownType("logs", resourceType)
	}
	key := taskKey("logs", "LogGroup")
	client := cloudwatchlogs.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(client, &cloudwatchlogs.DescribeLogGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to describe log groups: %w", err))
		}
		for _, group := range page.LogGroups {
			arn := logGroupARN(deref(group.Arn))
			tags, err := a.groupTags(ctx, client, arn)
			if err != nil {
				log.Debug().Err(err).Str("log_group", deref(group.LogGroupName)).Msg("log group tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, region, "logs", "LogGroup",
				deref(group.LogGroupName), deref(group.LogGroupName),
				fmtMillis(group.CreationTime), tags, arn, group,
				map[string]any{"stored_bytes": aws.ToInt64(group.StoredBytes)}))
		}
	}
	return success(key, records)
}

func (a *logsAdapter) groupTags(ctx context.Context, client *cloudwatchlogs.Client, arn string) (map[string]string, error) {
	out, err := client.ListTagsForResource(ctx, &cloudwatchlogs.ListTagsForResourceInput{
		ResourceArn: aws.String(arn),
	})
	if err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (a *logsAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := cloudwatchlogs.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &cloudwatchlogs.UntagResourceInput{
				ResourceArn: aws.String(r.ARN),
				TagKeys:     types.TagKeys(pairs),
			})
			return err
		}
		_, err := client.TagResource(ctx, &cloudwatchlogs.TagResourceInput{
			ResourceArn: aws.String(r.ARN),
			Tags:        types.TagMap(pairs),
		})
		return err
	})
}

// logGroupARN normalizes the ":*" suffix DescribeLogGroups appends;
// the tagging APIs reject it.
func logGroupARN(arn string) string {
	return strings.TrimSuffix(arn, ":*")
}
