package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testCatalog() map[string][]string {
	return map[string][]string{
		"ec2": {"ec2::Instance", "ec2::Volume"},
		"s3":  {"s3::Bucket"},
	}
}

func TestResolveServices(t *testing.T) {
	tests := []struct {
		name      string
		selectors []string
		want      []string
	}{
		{
			"All expands everything in stable order",
			[]string{"All"},
			[]string{"ec2::Instance", "ec2::Volume", "s3::Bucket"},
		},
		{
			"service wildcard",
			[]string{"ec2::*"},
			[]string{"ec2::Instance", "ec2::Volume"},
		},
		{
			"exact selector",
			[]string{"s3::Bucket"},
			[]string{"s3::Bucket"},
		},
		{
			"unknown service is dropped silently",
			[]string{"nosuch::Thing", "s3::Bucket"},
			[]string{"s3::Bucket"},
		},
		{
			"unknown type of known service is dropped",
			[]string{"ec2::Cluster", "ec2::Instance"},
			[]string{"ec2::Instance"},
		},
		{
			"malformed selector is dropped",
			[]string{"ec2", "s3::Bucket"},
			[]string{"s3::Bucket"},
		},
		{
			"wildcard of unknown service resolves to nothing",
			[]string{"nosuch::*"},
			nil,
		},
		{
			"duplicates preserved for caller",
			[]string{"s3::Bucket", "s3::Bucket"},
			[]string{"s3::Bucket", "s3::Bucket"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveServices(tt.selectors, testCatalog()))
		})
	}
}

func TestResolveRegions(t *testing.T) {
	catalog := []string{"us-east-1", "eu-west-1"}

	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, ResolveRegions([]string{"All"}, catalog))
	assert.Equal(t, []string{"eu-west-1"}, ResolveRegions([]string{"eu-west-1", "mars-north-1"}, catalog))
	assert.Nil(t, ResolveRegions([]string{"mars-north-1"}, catalog))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Dedupe([]string{"a", "b", "a", "b"}))
	assert.Nil(t, Dedupe(nil))
}
