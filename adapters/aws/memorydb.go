package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&memorydbAdapter{})
}

type memorydbAdapter struct{}

func (a *memorydbAdapter) Service() string { return "memorydb" }

func (a *memorydbAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Cluster": {
			ListOperation: "DescribeClusters",
			IDField:       "Name",
			NameField:     "Name",
			ARNIsDirect:   true,
		},
	}
}

func (a *memorydbAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Cluster" {
		return unknownType("memorydb", resourceType)
	}
	key := taskKey("memorydb", "Cluster")
	client := memorydb.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := memorydb.NewDescribeClustersPaginator(client, &memorydb.DescribeClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to describe clusters: %w", err))
		}
		for _, cluster := range page.Clusters {
			name := deref(cluster.Name)
			arn := deref(cluster.ARN)
			tags, err := a.clusterTags(ctx, client, arn)
			if err != nil {
				log.Debug().Err(err).Str("cluster", name).Msg("cluster tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, region, "memorydb", "Cluster",
				name, name, "", tags, arn, cluster,
				map[string]any{"status": deref(cluster.Status), "node_type": deref(cluster.NodeType)}))
		}
	}
	return success(key, records)
}

func (a *memorydbAdapter) clusterTags(ctx context.Context, client *memorydb.Client, arn string) (map[string]string, error) {
	out, err := client.ListTags(ctx, &memorydb.ListTagsInput{ResourceArn: aws.String(arn)})
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(out.TagList))
	for _, t := range out.TagList {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m, nil
}

func (a *memorydbAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := memorydb.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &memorydb.UntagResourceInput{
				ResourceArn: aws.String(r.ARN),
				TagKeys:     types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]memorydbtypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, memorydbtypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.TagResource(ctx, &memorydb.TagResourceInput{
			ResourceArn: aws.String(r.ARN),
			Tags:        tags,
		})
		return err
	})
}
