package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&cloudtrailAdapter{})
}

// cloudtrailAdapter lists from one region; DescribeTrails with shadow
// trails included sees every trail of the account, so the engine
// schedules it once per account.
type cloudtrailAdapter struct{}

func (a *cloudtrailAdapter) Service() string { return "cloudtrail" }

func (a *cloudtrailAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Trail": {
			ListOperation: "DescribeTrails",
			IDField:       "Name",
			NameField:     "Name",
			ARNIsDirect:   true,
			Global:        true,
		},
	}
}

func (a *cloudtrailAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Trail" {
		return unknownType("cloudtrail", resourceType)
	}
	key := taskKey("cloudtrail", "Trail")
	client := cloudtrail.NewFromConfig(cfg)

	out, err := client.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{
		IncludeShadowTrails: aws.Bool(true),
	})
	if err != nil {
		return failure(key, fmt.Errorf("failed to describe trails: %w", err))
	}

	var records []types.ResourceRecord
	for _, trail := range out.TrailList {
		name := deref(trail.Name)
		arn := deref(trail.TrailARN)
		tags, err := a.trailTags(ctx, client, arn)
		if err != nil {
			log.Debug().Err(err).Str("trail", name).Msg("trail tags unavailable")
			tags = map[string]string{}
		}
		records = append(records, record(accountID, adapters.GlobalRegion, "cloudtrail", "Trail",
			name, name, "", tags, arn, trail,
			map[string]any{
				"home_region":    deref(trail.HomeRegion),
				"is_multiregion": aws.ToBool(trail.IsMultiRegionTrail),
			}))
	}
	return success(key, records)
}

func (a *cloudtrailAdapter) trailTags(ctx context.Context, client *cloudtrail.Client, arn string) (map[string]string, error) {
	out, err := client.ListTags(ctx, &cloudtrail.ListTagsInput{ResourceIdList: []string{arn}})
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	for _, rt := range out.ResourceTagList {
		for _, t := range rt.TagsList {
			m[deref(t.Key)] = deref(t.Value)
		}
	}
	return m, nil
}

func (a *cloudtrailAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := cloudtrail.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		tags := make([]cttypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, cttypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		if action == types.TagActionRemove {
			_, err := client.RemoveTags(ctx, &cloudtrail.RemoveTagsInput{
				ResourceId: aws.String(r.ARN),
				TagsList:   tags,
			})
			return err
		}
		_, err := client.AddTags(ctx, &cloudtrail.AddTagsInput{
			ResourceId: aws.String(r.ARN),
			TagsList:   tags,
		})
		return err
	})
}
