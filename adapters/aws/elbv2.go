package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&elbv2Adapter{})
}

// describeTagsBatch is the API's ResourceArns cap per DescribeTags call.
const describeTagsBatch = 20

type elbv2Adapter struct{}

func (a *elbv2Adapter) Service() string { return "elasticloadbalancing" }

func (a *elbv2Adapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"LoadBalancer": {
			ListOperation: "DescribeLoadBalancers",
			IDField:       "LoadBalancerArn",
			NameField:     "LoadBalancerName",
			CreatedField:  "CreatedTime",
			ARNIsDirect:   true,
		},
		"TargetGroup": {
			ListOperation: "DescribeTargetGroups",
			IDField:       "TargetGroupArn",
			NameField:     "TargetGroupName",
			ARNIsDirect:   true,
		},
	}
}

func (a *elbv2Adapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	client := elbv2.NewFromConfig(cfg)
	key := taskKey("elasticloadbalancing", resourceType)

	var records []types.ResourceRecord
	var err error
	switch resourceType {
	case "LoadBalancer":
		records, err = a.listLoadBalancers(ctx, client, accountID, region)
	case "TargetGroup":
		records, err = a.listTargetGroups(ctx, client, accountID, region)
	default:
		return unknownType("elasticloadbalancing", resourceType)
	}
	if err != nil {
		return failure(key, err)
	}
	return success(key, records)
}

func (a *elbv2Adapter) listLoadBalancers(ctx context.Context, client *elbv2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	var arns []string
	paginator := elbv2.NewDescribeLoadBalancersPaginator(client, &elbv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe load balancers: %w", err)
		}
		for _, lb := range page.LoadBalancers {
			arn := deref(lb.LoadBalancerArn)
			arns = append(arns, arn)
			records = append(records, record(accountID, region, "elasticloadbalancing", "LoadBalancer",
				arn, deref(lb.LoadBalancerName), fmtTime(lb.CreatedTime), nil,
				arn, lb, map[string]any{"type": string(lb.Type), "scheme": string(lb.Scheme)}))
		}
	}
	if err := a.attachTags(ctx, client, arns, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (a *elbv2Adapter) listTargetGroups(ctx context.Context, client *elbv2.Client, accountID, region string) ([]types.ResourceRecord, error) {
	var records []types.ResourceRecord
	var arns []string
	paginator := elbv2.NewDescribeTargetGroupsPaginator(client, &elbv2.DescribeTargetGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe target groups: %w", err)
		}
		for _, tg := range page.TargetGroups {
			arn := deref(tg.TargetGroupArn)
			arns = append(arns, arn)
			records = append(records, record(accountID, region, "elasticloadbalancing", "TargetGroup",
				arn, deref(tg.TargetGroupName), "", nil,
				arn, tg, map[string]any{"protocol": string(tg.Protocol)}))
		}
	}
	if err := a.attachTags(ctx, client, arns, records); err != nil {
		return nil, err
	}
	return records, nil
}

// attachTags backfills tags with batched DescribeTags calls; records
// and arns are index-aligned.
func (a *elbv2Adapter) attachTags(ctx context.Context, client *elbv2.Client, arns []string, records []types.ResourceRecord) error {
	byARN := make(map[string]int, len(arns))
	for i, arn := range arns {
		byARN[arn] = i
	}
	for start := 0; start < len(arns); start += describeTagsBatch {
		end := start + describeTagsBatch
		if end > len(arns) {
			end = len(arns)
		}
		out, err := client.DescribeTags(ctx, &elbv2.DescribeTagsInput{ResourceArns: arns[start:end]})
		if err != nil {
			return fmt.Errorf("failed to describe tags: %w", err)
		}
		for _, desc := range out.TagDescriptions {
			i, ok := byARN[deref(desc.ResourceArn)]
			if !ok {
				continue
			}
			tags := make(map[string]string, len(desc.Tags))
			for _, t := range desc.Tags {
				tags[deref(t.Key)] = deref(t.Value)
			}
			records[i].Tags = tags
			records[i].TagsNumber = len(tags)
			if records[i].Name == "" {
				records[i].Name = tags["Name"]
			}
		}
	}
	return nil
}

func (a *elbv2Adapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := elbv2.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.RemoveTags(ctx, &elbv2.RemoveTagsInput{
				ResourceArns: []string{r.ARN},
				TagKeys:      types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]elbv2types.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, elbv2types.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.AddTags(ctx, &elbv2.AddTagsInput{
			ResourceArns: []string{r.ARN},
			Tags:         tags,
		})
		return err
	})
}
