package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&route53Adapter{})
}

// route53Adapter is globally scoped; the engine schedules it once per
// account.
type route53Adapter struct{}

func (a *route53Adapter) Service() string { return "route53" }

func (a *route53Adapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"HostedZone": {
			ListOperation: "ListHostedZones",
			IDField:       "Id",
			NameField:     "Name",
			ARNFormat:     "arn:aws:route53:::hostedzone/%s",
			Global:        true,
		},
	}
}

func (a *route53Adapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "HostedZone" {
		return unknownType("route53", resourceType)
	}
	key := taskKey("route53", "HostedZone")
	client := route53.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := route53.NewListHostedZonesPaginator(client, &route53.ListHostedZonesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to list hosted zones: %w", err))
		}
		for _, zone := range page.HostedZones {
			id := zoneID(deref(zone.Id))
			tags, err := a.zoneTags(ctx, client, id)
			if err != nil {
				log.Debug().Err(err).Str("zone", id).Msg("zone tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, adapters.GlobalRegion, "route53", "HostedZone",
				id, deref(zone.Name), "", tags,
				"arn:aws:route53:::hostedzone/"+id, zone,
				map[string]any{"private": zone.Config != nil && zone.Config.PrivateZone}))
		}
	}
	return success(key, records)
}

func (a *route53Adapter) zoneTags(ctx context.Context, client *route53.Client, id string) (map[string]string, error) {
	out, err := client.ListTagsForResource(ctx, &route53.ListTagsForResourceInput{
		ResourceType: r53types.TagResourceTypeHostedzone,
		ResourceId:   aws.String(id),
	})
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if out.ResourceTagSet != nil {
		for _, t := range out.ResourceTagSet.Tags {
			m[deref(t.Key)] = deref(t.Value)
		}
	}
	return m, nil
}

func (a *route53Adapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := route53.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		input := &route53.ChangeTagsForResourceInput{
			ResourceType: r53types.TagResourceTypeHostedzone,
			ResourceId:   aws.String(r.ResourceID),
		}
		if action == types.TagActionRemove {
			input.RemoveTagKeys = types.TagKeys(pairs)
		} else {
			for _, p := range pairs {
				input.AddTags = append(input.AddTags, r53types.Tag{
					Key: aws.String(p.Key), Value: aws.String(p.Value),
				})
			}
		}
		_, err := client.ChangeTagsForResource(ctx, input)
		return err
	})
}

// zoneID strips the "/hostedzone/" prefix the API returns.
func zoneID(raw string) string {
	return strings.TrimPrefix(raw, "/hostedzone/")
}
