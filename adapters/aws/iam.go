package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&iamAdapter{})
}

// iamAdapter is globally scoped; the engine schedules it once per
// account.
type iamAdapter struct{}

func (a *iamAdapter) Service() string { return "iam" }

func (a *iamAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Role": {
			ListOperation: "ListRoles",
			IDField:       "RoleName",
			NameField:     "RoleName",
			CreatedField:  "CreateDate",
			ARNIsDirect:   true,
			Global:        true,
		},
	}
}

func (a *iamAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Role" {
		return unknownType("iam", resourceType)
	}
	key := taskKey("iam", "Role")
	client := iam.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to list roles: %w", err))
		}
		for _, role := range page.Roles {
			name := deref(role.RoleName)
			tags, err := a.roleTags(ctx, client, name)
			if err != nil {
				log.Debug().Err(err).Str("role", name).Msg("role tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, adapters.GlobalRegion, "iam", "Role",
				name, name, fmtTime(role.CreateDate), tags,
				deref(role.Arn), role, map[string]any{"path": deref(role.Path)}))
		}
	}
	return success(key, records)
}

// roleTags pages ListRoleTags; ListRoles omits tags.
func (a *iamAdapter) roleTags(ctx context.Context, client *iam.Client, roleName string) (map[string]string, error) {
	m := map[string]string{}
	var marker *string
	for {
		out, err := client.ListRoleTags(ctx, &iam.ListRoleTagsInput{
			RoleName: aws.String(roleName),
			Marker:   marker,
		})
		if err != nil {
			return nil, err
		}
		for _, t := range out.Tags {
			m[deref(t.Key)] = deref(t.Value)
		}
		if !out.IsTruncated {
			return m, nil
		}
		marker = out.Marker
	}
}

func (a *iamAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := iam.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagRole(ctx, &iam.UntagRoleInput{
				RoleName: aws.String(r.ResourceID),
				TagKeys:  types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]iamtypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, iamtypes.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
		}
		_, err := client.TagRole(ctx, &iam.TagRoleInput{
			RoleName: aws.String(r.ResourceID),
			Tags:     tags,
		})
		return err
	})
}
