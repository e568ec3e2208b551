package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&ecsAdapter{})
}

type ecsAdapter struct{}

func (a *ecsAdapter) Service() string { return "ecs" }

func (a *ecsAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Cluster": {
			ListOperation: "ListClusters",
			IDField:       "ClusterName",
			NameField:     "ClusterName",
			ARNIsDirect:   true,
		},
		"Service": {
			ListOperation:  "ListServices",
			IDField:        "ServiceName",
			NameField:      "ServiceName",
			CreatedField:   "CreatedAt",
			ARNIsDirect:    true,
			RequiresParent: "Cluster",
		},
	}
}

func (a *ecsAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	client := ecs.NewFromConfig(cfg)
	key := taskKey("ecs", resourceType)

	var records []types.ResourceRecord
	var err error
	switch resourceType {
	case "Cluster":
		records, err = a.listClusters(ctx, client, accountID, region)
	case "Service":
		records, err = a.listServices(ctx, client, accountID, region)
	default:
		return unknownType("ecs", resourceType)
	}
	if err != nil {
		return failure(key, err)
	}
	return success(key, records)
}

func (a *ecsAdapter) clusterARNs(ctx context.Context, client *ecs.Client) ([]string, error) {
	var arns []string
	paginator := ecs.NewListClustersPaginator(client, &ecs.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list clusters: %w", err)
		}
		arns = append(arns, page.ClusterArns...)
	}
	return arns, nil
}

func (a *ecsAdapter) listClusters(ctx context.Context, client *ecs.Client, accountID, region string) ([]types.ResourceRecord, error) {
	arns, err := a.clusterARNs(ctx, client)
	if err != nil {
		return nil, err
	}
	if len(arns) == 0 {
		return nil, nil
	}

	out, err := client.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: arns,
		Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe clusters: %w", err)
	}

	var records []types.ResourceRecord
	for _, cluster := range out.Clusters {
		name := deref(cluster.ClusterName)
		records = append(records, record(accountID, region, "ecs", "Cluster",
			name, name, "", ecsTagMap(cluster.Tags),
			deref(cluster.ClusterArn), cluster,
			map[string]any{"status": deref(cluster.Status)}))
	}
	return records, nil
}

// listServices lists per parent cluster.
func (a *ecsAdapter) listServices(ctx context.Context, client *ecs.Client, accountID, region string) ([]types.ResourceRecord, error) {
	clusters, err := a.clusterARNs(ctx, client)
	if err != nil {
		return nil, err
	}

	var records []types.ResourceRecord
	for _, cluster := range clusters {
		var serviceARNs []string
		paginator := ecs.NewListServicesPaginator(client, &ecs.ListServicesInput{
			Cluster: aws.String(cluster),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list services of %s: %w", cluster, err)
			}
			serviceARNs = append(serviceARNs, page.ServiceArns...)
		}

		// DescribeServices caps at 10 ARNs per call.
		for start := 0; start < len(serviceARNs); start += 10 {
			end := start + 10
			if end > len(serviceARNs) {
				end = len(serviceARNs)
			}
			out, err := client.DescribeServices(ctx, &ecs.DescribeServicesInput{
				Cluster:  aws.String(cluster),
				Services: serviceARNs[start:end],
				Include:  []ecstypes.ServiceField{ecstypes.ServiceFieldTags},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to describe services of %s: %w", cluster, err)
			}
			for _, svc := range out.Services {
				name := deref(svc.ServiceName)
				records = append(records, record(accountID, region, "ecs", "Service",
					name, name, fmtTime(svc.CreatedAt), ecsTagMap(svc.Tags),
					deref(svc.ServiceArn), svc,
					map[string]any{"cluster": cluster, "status": deref(svc.Status)}))
			}
		}
	}
	return records, nil
}

func (a *ecsAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := ecs.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &ecs.UntagResourceInput{
				ResourceArn: aws.String(r.ARN),
				TagKeys:     types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]ecstypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, ecstypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.TagResource(ctx, &ecs.TagResourceInput{
			ResourceArn: aws.String(r.ARN),
			Tags:        tags,
		})
		return err
	})
}

func ecsTagMap(tags []ecstypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m
}
