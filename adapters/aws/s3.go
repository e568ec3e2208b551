package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
	"github.com/magpie-cloud/magpie/types"
)

func init() {
	adapters.Register(&s3Adapter{})
}

// s3Adapter treats buckets as globally listed; ListBuckets returns the
// whole account regardless of client region.
type s3Adapter struct{}

func (a *s3Adapter) Service() string { return "s3" }

func (a *s3Adapter) ServiceTypes() map[string]adapters.ResourceTypeConfig {
	return map[string]adapters.ResourceTypeConfig{
		"Bucket": {
			ListOperation: "ListBuckets",
			IDField:       "Name",
			NameField:     "Name",
			CreatedField:  "CreationDate",
			ARNFormat:     "arn:aws:s3:::%s",
			Global:        true,
		},
	}
}

func (a *s3Adapter) Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) adapters.DiscoverResult {
	if resourceType != "Bucket" {
		return unknownType("s3", resourceType)
	}
	key := taskKey("s3", "Bucket")
	client := s3.NewFromConfig(cfg)

	out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return failure(key, fmt.Errorf("failed to list buckets: %w", err))
	}

	var records []types.ResourceRecord
	for _, bucket := range out.Buckets {
		name := deref(bucket.Name)
		tags, err := a.bucketTags(ctx, client, name)
		if err != nil {
			log.Debug().Err(err).Str("bucket", name).Msg("bucket tags unavailable")
			tags = map[string]string{}
		}
		records = append(records, record(accountID, adapters.GlobalRegion, "s3", "Bucket",
			name, name, fmtTime(bucket.CreationDate), tags,
			"arn:aws:s3:::"+name, bucket, nil))
	}
	return success(key, records)
}

// bucketTags tolerates NoSuchTagSet; a bucket without tags is normal.
func (a *s3Adapter) bucketTags(ctx context.Context, client *s3.Client, bucket string) (map[string]string, error) {
	out, err := client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchTagSet" {
			return map[string]string{}, nil
		}
		return nil, err
	}
	m := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		m[deref(t.Key)] = deref(t.Value)
	}
	return m, nil
}

// Tag merges with the existing tag set because PutBucketTagging
// replaces it wholesale.
func (a *s3Adapter) Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome {
	pairs, failed := parsePairs(tagExpr, records)
	if failed != nil {
		return failed
	}
	client := s3.NewFromConfig(cfg)

	return tagEach(ctx, records, log, func(ctx context.Context, r types.ResourceRecord) error {
		existing, err := a.bucketTags(ctx, client, r.ResourceID)
		if err != nil {
			return err
		}

		if action == types.TagActionRemove {
			for _, p := range pairs {
				delete(existing, p.Key)
			}
			if len(existing) == 0 {
				_, err := client.DeleteBucketTagging(ctx, &s3.DeleteBucketTaggingInput{
					Bucket: aws.String(r.ResourceID),
				})
				return err
			}
		} else {
			for _, p := range pairs {
				existing[p.Key] = p.Value
			}
		}

		tagSet := make([]s3types.Tag, 0, len(existing))
		for k, v := range existing {
			tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		_, err = client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  aws.String(r.ResourceID),
			Tagging: &s3types.Tagging{TagSet: tagSet},
		})
		return err
	})
}
