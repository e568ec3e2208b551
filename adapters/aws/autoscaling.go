package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&autoscalingAdapter{})
}

type autoscalingAdapter struct{}

func (a *autoscalingAdapter) Service() string { return "autoscaling" }

func (a *autoscalingAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"AutoScalingGroup": {
			ListOperation: "DescribeAutoScalingGroups",
			IDField:       "AutoScalingGroupName",
			NameField:     "AutoScalingGroupName",
			CreatedField:  "CreatedTime",
			ARNIsDirect:   true,
		},
	}
}

func (a *autoscalingAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "AutoScalingGroup" {
		return unknownType("autoscaling", resourceType)
	}
	key := taskKey("autoscaling", "AutoScalingGroup")
	client := autoscaling.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(client, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to describe auto scaling groups: %w", err))
		}
		for _, group := range page.AutoScalingGroups {
			name := deref(group.AutoScalingGroupName)
			tags := make(map[string]string, len(group.Tags))
			for _, t := range group.Tags {
				tags[deref(t.Key)] = deref(t.Value)
			}
			records = append(records, record(accountID, region, "autoscaling", "AutoScalingGroup",
				name, name, fmtTime(group.CreatedTime), tags,
				deref(group.AutoScalingGroupARN), group,
				map[string]any{"desired_capacity": aws.ToInt32(group.DesiredCapacity)}))
		}
	}
	return success(key, records)
}

func (a *autoscalingAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := autoscaling.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		tags := make([]asgtypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, asgtypes.Tag{
				ResourceId:        aws.String(r.ResourceID),
				ResourceType:      aws.String("auto-scaling-group"),
				Key:               aws.String(p.Key),
				Value:             aws.String(p.Value),
				PropagateAtLaunch: aws.Bool(false),
			})
		}
		if action == types.TagActionRemove {
			_, err := client.DeleteTags(ctx, &autoscaling.DeleteTagsInput{Tags: tags})
			return err
		}
		_, err := client.CreateOrUpdateTags(ctx, &autoscaling.CreateOrUpdateTagsInput{Tags: tags})
		return err
	})
}
