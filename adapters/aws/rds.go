package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&rdsAdapter{})
}

type rdsAdapter struct{}

func (a *rdsAdapter) Service() string { return "rds" }

func (a *rdsAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"DBInstance": {
			ListOperation: "DescribeDBInstances",
			IDField:       "DBInstanceIdentifier",
			CreatedField:  "InstanceCreateTime",
			ARNIsDirect:   true,
		},
		"DBCluster": {
			ListOperation: "DescribeDBClusters",
			IDField:       "DBClusterIdentifier",
			CreatedField:  "ClusterCreateTime",
			ARNIsDirect:   true,
		},
		"DBClusterSnapshot": {
			ListOperation:  "DescribeDBClusterSnapshots",
			IDField:        "DBClusterSnapshotIdentifier",
			CreatedField:   "SnapshotCreateTime",
			ARNIsDirect:    true,
			RequiresParent: "DBCluster",
		},
	}
}

func (a *rdsAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	client := rds.NewFromConfig(cfg)
	key := taskKey("rds", resourceType)

	var records []types.ResourceRecord
	var err error
	switch resourceType {
	case "DBInstance":
		records, err = a.listInstances(ctx, client, accountID, region)
	case "DBCluster":
		records, err = a.listClusters(ctx, client, accountID, region)
	case "DBClusterSnapshot":
		records, err = a.listClusterSnapshots(ctx, client, accountID, region)
	default:
		return unknownType("rds", resourceType)
	}
	if err != nil {
		return failure(key, err)
	}
	return success(key, records)
}

func (a *rdsAdapter) listInstances(ctx context.Context, client *rds.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe db instances: %w", err)
		}
		for _, instance := range page.DBInstances {
			id := deref(instance.DBInstanceIdentifier)
			records = append(records, record(accountID, region, "rds", "DBInstance",
				id, id, fmtTime(instance.InstanceCreateTime), rdsTagMap(instance.TagList),
				deref(instance.DBInstanceArn), instance,
				map[string]any{"engine": deref(instance.Engine), "status": deref(instance.DBInstanceStatus)}))
		}
	}
	return records, nil
}

func (a *rdsAdapter) listClusters(ctx context.Context, client *rds.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	paginator := rds.NewDescribeDBClustersPaginator(client, &rds.DescribeDBClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe db clusters: %w", err)
		}
		for _, cluster := range page.DBClusters {
			id := deref(cluster.DBClusterIdentifier)
			records = append(records, record(accountID, region, "rds", "DBCluster",
				id, id, fmtTime(cluster.ClusterCreateTime), rdsTagMap(cluster.TagList),
				deref(cluster.DBClusterArn), cluster,
				map[string]any{"engine": deref(cluster.Engine)}))
		}
	}
	return records, nil
}

// listClusterSnapshots enumerates clusters first; snapshots are listed
// per parent so the snapshot row can carry its cluster.
func (a *rdsAdapter) listClusterSnapshots(ctx context.Context, client *rds.Client, accountID, region string) ([]types.ResourceRecord, error) {
	clusters, err := a.listClusters(ctx, client, accountID, region)
	if err != nil {
		return nil, err
	}

	var records []types.ResourceRecord
	for _, cluster := range clusters {
		paginator := rds.NewDescribeDBClusterSnapshotsPaginator(client, &rds.DescribeDBClusterSnapshotsInput{
			DBClusterIdentifier: aws.String(cluster.ResourceID),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe snapshots of cluster %s: %w", cluster.ResourceID, err)
			}
			for _, snapshot := range page.DBClusterSnapshots {
				id := deref(snapshot.DBClusterSnapshotIdentifier)
				records = append(records, record(accountID, region, "rds", "DBClusterSnapshot",
					id, id, fmtTime(snapshot.SnapshotCreateTime), rdsTagMap(snapshot.TagList),
					deref(snapshot.DBClusterSnapshotArn), snapshot,
					map[string]any{"db_cluster": cluster.ResourceID}))
			}
		}
	}
	return records, nil
}

func (a *rdsAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := rds.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.RemoveTagsFromResource(ctx, &rds.RemoveTagsFromResourceInput{
				ResourceName: aws.String(r.ARN),
				TagKeys:      types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]rdstypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, rdstypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
			ResourceName: aws.String(r.ARN),
			Tags:         tags,
		})
		return err
	})
}

func rdsTagMap(tags []rdstypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}
