package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&kmsAdapter{})
}

// kmsAdapter only reports customer-managed keys; AWS-managed keys
// cannot be tagged.
type kmsAdapter struct{}

func (a *kmsAdapter) Service() string { return "kms" }

func (a *kmsAdapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Key": {
			ListOperation: "ListKeys",
			IDField:       "KeyId",
			CreatedField:  "CreationDate",
			ARNIsDirect:   true,
		},
	}
}

func (a *kmsAdapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Key" {
		return unknownType("kms", resourceType)
	}
	key := taskKey("kms", "Key")
	client := kms.NewFromConfig(cfg)

	var records []types.ResourceRecord
	paginator := kms.NewListKeysPaginator(client, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return failure(key, fmt.Errorf("failed to list keys: %w", err))
		}
		for _, entry := range page.Keys {
			keyID := deref(entry.KeyId)
			out, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
			if err != nil {
				log.Warn().Err(err).Str("key_id", keyID).Msg("key describe failed, skipping")
				continue
			}
			meta := out.KeyMetadata
			if meta.KeyManager != kmstypes.KeyManagerTypeCustomer {
				continue
			}
			tags, err := a.keyTags(ctx, client, keyID)
			if err != nil {
				log.Debug().Err(err).Str("key_id", keyID).Msg("key tags unavailable")
				tags = map[string]string{}
			}
			records = append(records, record(accountID, region, "kms", "Key",
				keyID, deref(meta.Description), fmtTime(meta.CreationDate), tags,
				deref(meta.Arn), meta, map[string]any{"state": string(meta.KeyState)}))
		}
	}
	return success(key, records)
}

func (a *kmsAdapter) keyTags(ctx context.Context, client *kms.Client, keyID string) (map[string]string, error) {
	out, err := client.ListResourceTags(ctx, &kms.ListResourceTagsInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		m[deref(t.TagKey)] = deref(t.TagValue)
	}
	return m, nil
}

func (a *kmsAdapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := kms.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		if action == types.TagActionRemove {
			_, err := client.UntagResource(ctx, &kms.UntagResourceInput{
				KeyId:   aws.String(r.ResourceID),
				TagKeys: types.TagKeys(pairs),
			})
			return err
		}
		tags := make([]kmstypes.Tag, 0, len(pairs))
		for _, p := range pairs {
			tags = append(tags, kmstypes.Tag{TagKey: aws.String(p.Key), TagValue: aws.String(p.Value)})
		}
		_, err := client.TagResource(ctx, &kms.TagResourceInput{
			KeyId: aws.String(r.ResourceID),
			Tags:  tags,
		})
		return err
	})
}
