package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&eksAdapter{})
}

type eksAdapter struct{}

func (a *eksAdapter) Service() string { return "eks" }

func (a *eksAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Cluster": {
			ListOperation: "ListClusters",
			IDField:       "Name",
			NameField:     "Name",
			CreatedField:  "CreatedAt",
			ARNIsDirect:   true,
		},
		"Nodegroup": {
			ListOperation:  "ListNodegroups",
			IDField:        "NodegroupName",
			NameField:      "NodegroupName",
			CreatedField:   "CreatedAt",
			ARNIsDirect:    true,
			RequiresParent: "Cluster",
		},
	}
}

func (a *eksAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	client := eks.NewFromConfig(cfg)
	key := taskKey("eks", resourceType)

	var records []types.ResourceRecord
	var err error
	switch resourceType {
	case "Cluster":
		records, err = a.listClusters(ctx, client, accountID, region)
	case "Nodegroup":
		records, err = a.listNodegroups(ctx, client, accountID, region)
	default:
		return unknownType("eks", resourceType)
	}
	if err != nil {
		return failure(key, err)
	}
	return success(key, records)
}

func (a *eksAdapter) clusterNames(ctx context.Context, client *eks.Client) ([]string, error) {
	var names []string
	paginator := eks.NewListClustersPaginator(client, &eks.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list clusters: %w", err)
		}
		names = append(names, page.Clusters...)
	}
	return names, nil
}

func (a *eksAdapter) listClusters(ctx context.Context, client *eks.Client, accountID, region string) ([]types.ResourceRecord, error) {
	names, err := a.clusterNames(ctx, client)
	if err != nil {
		return nil, err
	}
	var records []types.ResourceRecord
	for _, name := range names {
		out, err := client.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
		if err != nil {
			return nil, fmt.Errorf("failed to describe cluster %s: %w", name, err)
		}
		cluster := out.Cluster
		records = append(records, record(accountID, region, "eks", "Cluster",
			name, name, fmtTime(cluster.CreatedAt), cluster.Tags,
			deref(cluster.Arn), cluster,
			map[string]any{"version": deref(cluster.Version), "status": string(cluster.Status)}))
	}
	return records, nil
}

// listNodegroups lists per parent cluster.
func (a *eksAdapter) listNodegroups(ctx context.Context, client *eks.Client, accountID, region string) ([]types.ResourceRecord, error) {
	names, err := a.clusterNames(ctx, client)
	if err != nil {
		return nil, err
	}
	var records []types.ResourceRecord
	for _, cluster := range names {
		paginator := eks.NewListNodegroupsPaginator(client, &eks.ListNodegroupsInput{
			ClusterName: aws.String(cluster),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list nodegroups of %s: %w", cluster, err)
			}
			for _, ng := range page.Nodegroups {
				out, err := client.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
					ClusterName:   aws.String(cluster),
					NodegroupName: aws.String(ng),
				})
				if err != nil {
					return nil, fmt.Errorf("failed to describe nodegroup %s/%s: %w", cluster, ng, err)
				}
				group := out.Nodegroup
				records = append(records, record(accountID, region, "eks", "Nodegroup",
					ng, ng, fmtTime(group.CreatedAt), group.Tags,
					deref(group.NodegroupArn), group,
					map[string]any{"cluster": cluster, "status": string(group.Status)}))
			}
		}
	}
	return records, nil
}

func (a *eksAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := eks.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &eks.UntagResourceInput{
				ResourceArn: aws.String(r.ARN),
				TagKeys:     types.TagKeys(pairs),
			})
			return err
		}
		_, err := client.TagResource(ctx, &eks.TagResourceInput{
			ResourceArn: aws.String(r.ARN),
			Tags:        types.TagMap(pairs),
		})
		return err
	})
}
