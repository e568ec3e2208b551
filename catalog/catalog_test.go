package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlob struct {
	getBody []byte
	getErr  error

	putKey  string
	putBody []byte
	putErr  error
}

func (f *fakeBlob) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.getBody))}, nil
}

func (f *fakeBlob) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putKey = *params.Key
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.putBody = body
	return &s3.PutObjectOutput{}, nil
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("parses the stored catalog", func(t *testing.T) {
		blob := &fakeBlob{getBody: []byte(`["us-east-1","eu-west-1"]`)}
		c := New(blob, "magpie-catalog", zerolog.Nop())

		require.NoError(t, c.Load(ctx))
		assert.Equal(t, []string{"us-east-1", "eu-west-1"}, c.Regions())
	})

	t.Run("falls back to defaults when the object is missing", func(t *testing.T) {
		blob := &fakeBlob{getErr: errors.New("NoSuchKey")}
		c := New(blob, "magpie-catalog", zerolog.Nop())

		require.NoError(t, c.Load(ctx))
		assert.Equal(t, DefaultRegions, c.Regions())
	})

	t.Run("empty stored list falls back to defaults", func(t *testing.T) {
		blob := &fakeBlob{getBody: []byte(`[]`)}
		c := New(blob, "magpie-catalog", zerolog.Nop())

		require.NoError(t, c.Load(ctx))
		assert.Equal(t, DefaultRegions, c.Regions())
	})

	t.Run("malformed catalog is an error", func(t *testing.T) {
		blob := &fakeBlob{getBody: []byte(`{"not":"a list"}`)}
		c := New(blob, "magpie-catalog", zerolog.Nop())

		assert.Error(t, c.Load(ctx))
	})

	t.Run("regions before load returns defaults", func(t *testing.T) {
		c := New(&fakeBlob{}, "magpie-catalog", zerolog.Nop())
		assert.Equal(t, DefaultRegions, c.Regions())
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes the adapter manifest", func(t *testing.T) {
		blob := &fakeBlob{}
		c := New(blob, "magpie-catalog", zerolog.Nop())

		result, err := c.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, "success", result.Status)
		assert.Equal(t, AdapterManifestKey, blob.putKey)

		var manifest map[string][]string
		require.NoError(t, json.Unmarshal(blob.putBody, &manifest))
		assert.Len(t, result.Files, len(manifest))
	})

	t.Run("upload failure is reported", func(t *testing.T) {
		blob := &fakeBlob{putErr: errors.New("AccessDenied")}
		c := New(blob, "magpie-catalog", zerolog.Nop())

		result, err := c.Sync(ctx)
		assert.Error(t, err)
		assert.Equal(t, "error", result.Status)
	})
}
