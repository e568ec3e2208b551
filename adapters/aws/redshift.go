package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&redshiftAdapter{})
}

type redshiftAdapter struct{}

func (a *redshiftAdapter) Service() string { return "redshift" }

func (a *redshiftAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Cluster": {
			ListOperation: "DescribeClusters",
			IDField:       "ClusterIdentifier",
			NameField:     "ClusterIdentifier",
			CreatedField:  "ClusterCreateTime",
			ARNFormat:     "arn:aws:redshift:%s:%s:cluster:%s",
		},
	}
}

func (a *redshiftAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Cluster" {
		return unknownType("redshift", resourceType)
	}
	key := taskKey("redshift", "Cluster")
	client := redshift.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := redshift.NewDescribeClustersPaginator(client, &redshift.DescribeClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to describe clusters: %w", err))
		}
		for _, cluster := range page.Clusters {
			id := deref(cluster.ClusterIdentifier)
			tags := make(map[string]string, len(cluster.Tags))
			for _, t := range cluster.Tags {
				tags[deref(t.Key)] = deref(t.Value)
			}
			records = append(records, record(accountID, region, "redshift", "Cluster",
				id, id, fmtTime(cluster.ClusterCreateTime), tags,
				fmt.Sprintf("arn:aws:redshift:%s:%s:cluster:%s", region, accountID, id),
				cluster, map[string]any{"node_type": deref(cluster.NodeType)}))
		}
	}
	return success(key, records)
}

func (a *redshiftAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := redshift.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.DeleteTags(ctx, &redshift.DeleteTagsInput{
				ResourceName: aws.String(r.ARN),
				TagKeys:      types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]redshifttypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, redshifttypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.CreateTags(ctx, &redshift.CreateTagsInput{
			ResourceName: aws.String(r.ARN),
			Tags:         tags,
		})
		return err
	})
}
