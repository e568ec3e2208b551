// Package catalog loads the region catalog from blob storage and
// publishes the compiled-in adapter manifest back to it. Adapters
// themselves are statically linked; the blob store only carries data.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/adapters"
)

// Blob store object keys, relative to the configured bucket.
const (
	RegionCatalogKey   = "catalog/regions.json"
	AdapterManifestKey = "catalog/adapters.json"
)

// DefaultRegions is used when the blob store has no region catalog yet.
var DefaultRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1", "eu-north-1",
	"ap-southeast-1", "ap-southeast-2", "ap-northeast-1", "ap-northeast-2",
	"ap-south-1", "ca-central-1", "sa-east-1",
}

// BlobAPI is the slice of the S3 client the catalog needs.
type BlobAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Catalog holds the loaded region list and the bucket it came from.
type Catalog struct {
	client BlobAPI
	bucket string
	log    zerolog.Logger

	regions []string
}

// New builds a catalog backed by the given bucket.
func New(client BlobAPI, bucket string, log zerolog.Logger) *Catalog {
	return &Catalog{client: client, bucket: bucket, log: log}
}

// Load fetches the region catalog. A missing or unreadable object falls
// back to the packaged default list; that is not an error.
func (c *Catalog) Load(ctx context.Context) error {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(RegionCatalogKey),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("bucket", c.bucket).Msg("region catalog unavailable, using defaults")
		c.regions = append([]string(nil), DefaultRegions...)
		return nil
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read region catalog: %w", err)
	}

	var regions []string
	if err := json.Unmarshal(body, &regions); err != nil {
		return fmt.Errorf("parse region catalog: %w", err)
	}
	if len(regions) == 0 {
		regions = append([]string(nil), DefaultRegions...)
	}
	c.regions = regions
	c.log.Info().Int("regions", len(regions)).Msg("region catalog loaded")
	return nil
}

// Regions returns the ordered region catalog.
func (c *Catalog) Regions() []string {
	if len(c.regions) == 0 {
		return append([]string(nil), DefaultRegions...)
	}
	return c.regions
}

// SyncResult reports what a manifest sync wrote.
type SyncResult struct {
	Status string   `json:"status"`
	Files  []string `json:"files"`
}

// Sync publishes the compiled-in adapter manifest so external tooling
// can browse the catalog. With a static registry there is no code to
// fetch; a new adapter ships by rebuilding the binary.
func (c *Catalog) Sync(ctx context.Context) (SyncResult, error) {
	manifest := make(map[string][]string)
	for service, keys := range adapters.Catalog() {
		manifest[service] = keys
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return SyncResult{Status: "error"}, fmt.Errorf("encode adapter manifest: %w", err)
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(AdapterManifestKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return SyncResult{Status: "error"}, fmt.Errorf("upload adapter manifest: %w", err)
	}

	files := make([]string, 0, len(manifest))
	for service := range manifest {
		files = append(files, service)
	}
	sort.Strings(files)
	c.log.Info().Int("adapters", len(files)).Msg("adapter manifest synced")
	return SyncResult{Status: "success", Files: files}, nil
}
