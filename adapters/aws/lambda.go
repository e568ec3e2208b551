package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&lambdaAdapter{})
}

type lambdaAdapter struct{}

func (a *lambdaAdapter) Service() string { return "lambda" }

func (a *lambdaAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Function": {
			ListOperation: "ListFunctions",
			IDField:       "FunctionName",
			NameField:     "FunctionName",
			CreatedField:  "LastModified",
			ARNIsDirect:   true,
		},
	}
}

func (a *lambdaAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Function" {
		return unknownType("lambda", resourceType)
	}
	key := taskKey("lambda", "Function")
	client := lambda.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to list functions: %w", err))
		}
		for _, fn := range page.Functions {
			arn := deref(fn.FunctionArn)
			tags, err := a.functionTags(ctx, client, arn)
			if err != nil {
				log.Debug().Err(err).Str("function", deref(fn.FunctionName)).Msg("function tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, region, "lambda", "Function",
				deref(fn.FunctionName), deref(fn.FunctionName), deref(fn.LastModified), tags,
				arn, fn, map[string]any{"runtime": string(fn.Runtime)}))
		}
	}
	return success(key, records)
}

func (a *lambdaAdapter) functionTags(ctx context.Context, client *lambda.Client, arn string) (map[string]string, error) {
	out, err := client.ListTags(ctx, &lambda.ListTagsInput{Resource: aws.String(arn)})
	if err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (a *lambdaAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := lambda.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &lambda.UntagResourceInput{
				Resource: aws.String(r.ARN),
				TagKeys:  types.TagKeys(pairs),
			})
			return err
		}
		_, err := client.TagResource(ctx, &lambda.TagResourceInput{
			Resource: aws.String(r.ARN),
			Tags:     types.TagMap(pairs),
		})
		return err
	})
}
