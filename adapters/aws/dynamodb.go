package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&dynamodbAdapter{})
}

type dynamodbAdapter struct{}

func (a *dynamodbAdapter) Service() string { return "dynamodb" }

func (a *dynamodbAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Table": {
			ListOperation: "ListTables",
			IDField:       "TableName",
			NameField:     "TableName",
			CreatedField:  "CreationDateTime",
			ARNFormat:     "arn:aws:dynamodb:%s:%s:table/%s",
		},
	}
}

func (a *dynamodbAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Table" {
		return unknownType("dynamodb", resourceType)
	}
	key := taskKey("dynamodb", "Table")
	client := dynamodb.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to list tables: %w", err))
		}
		for _, name := range page.TableNames {
			rec, err := a.describeTable(ctx, client, accountID, region, name)
			if err != nil {
				log.Warn().Err(err).Str("table", name).Msg("table describe failed, skipping")
				continue
			}
			records = append(records, rec)
		}
	}
	return success(key, records)
}

func (a *dynamodbAdapter) describeTable(ctx context.Context, client *dynamodb.Client, accountID, region, name string) (types.ResourceRecord, error) {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		return types.ResourceRecord{}, err
	}
	table := out.Table
	arn := deref(table.TableArn)

	tags := map[string]string{}
	tagOut, err := client.ListTagsOfResource(ctx, &dynamodb.ListTagsOfResourceInput{ResourceArn: aws.String(arn)})
	if err == nil {
		for _, t := range tagOut.Tags {
			tags[deref(t.Key)] = deref(t.Value)
		}
	}

	return record(accountID, region, "dynamodb", "Table",
		name, name, fmtTime(table.CreationDateTime), tags,
		arn, table, map[string]any{"status": string(table.TableStatus)}), nil
}

func (a *dynamodbAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := dynamodb.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &dynamodb.UntagResourceInput{
				ResourceArn: aws.String(r.ARN),
				TagKeys:     types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]ddbtypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, ddbtypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.TagResource(ctx, &dynamodb.TagResourceInput{
			ResourceArn: aws.String(r.ARN),
			Tags:        tags,
		})
		return err
	})
}
