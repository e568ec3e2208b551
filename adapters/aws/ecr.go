package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&ecrAdapter{})
}

type ecrAdapter struct{}

func (a *ecrAdapter) Service() string { return "ecr" }

func (a *ecrAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Repository": {
			ListOperation: "DescribeRepositories",
			IDField:       "RepositoryName",
			NameField:     "RepositoryName",
			CreatedField:  "CreatedAt",
			ARNIsDirect:   true,
		},
	}
}

func (a *ecrAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Repository" {
		return unknownType("ecr", resourceType)
	}
	key := taskKey("ecr", "Repository")
	client := ecr.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := ecr.NewDescribeRepositoriesPaginator(client, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to describe repositories: %w", err))
		}
		for _, repo := range page.Repositories {
			arn := deref(repo.RepositoryArn)
			tags, err := a.repoTags(ctx, client, arn)
			if err != nil {
				log.Debug().Err(err).Str("repository", deref(repo.RepositoryName)).Msg("repository tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, region, "ecr", "Repository",
				deref(repo.RepositoryName), deref(repo.RepositoryName),
				fmtTime(repo.CreatedAt), tags, arn, repo, nil))
		}
	}
	return success(key, records)
}

func (a *ecrAdapter) repoTags(ctx context.Context, client *ecr.Client, arn string) (map[string]string, error) {
	out, err := client.ListTagsForResource(ctx, &ecr.ListTagsForResourceInput{ResourceArn: aws.String(arn)})
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m, nil
}

func (a *ecrAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := ecr.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &ecr.UntagResourceInput{
				ResourceArn: aws.String(r.ARN),
				TagKeys:     types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]ecrtypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, ecrtypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.TagResource(ctx, &ecr.TagResourceInput{
			ResourceArn: aws.String(r.ARN),
			Tags:        tags,
		})
		return err
	})
}
