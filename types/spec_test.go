package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceKey(t *testing.T) {
	assert.Equal(t, "ec2::Instance", ServiceKey("ec2", "Instance"))

	service, rtype := SplitServiceKey("ec2::Instance")
	assert.Equal(t, "ec2", service)
	assert.Equal(t, "Instance", rtype)

	service, rtype = SplitServiceKey("malformed")
	assert.Equal(t, "malformed", service)
	assert.Equal(t, "", rtype)
}

func TestScanSpecRoundTrip(t *testing.T) {
	spec := ScanSpec{
		Accounts: []string{"111111111111"},
		Regions:  []string{"us-east-1", "eu-west-1"},
		Services: []string{"ec2::Instance", "s3::Bucket"},
		Filter:   "tags_number == 0",
	}

	back, err := ParseScanSpec(spec.Encode())
	require.NoError(t, err)
	assert.Equal(t, spec, back)
}

func TestParseScanSpecInvalid(t *testing.T) {
	_, err := ParseScanSpec("{not json")
	assert.Error(t, err)
}

func TestTagActionString(t *testing.T) {
	assert.Equal(t, "APPLY", TagActionApply.String())
	assert.Equal(t, "REMOVE", TagActionRemove.String())
	assert.Equal(t, "UNKNOWN", TagAction(9).String())
	assert.True(t, TagActionApply.Valid())
	assert.False(t, TagAction(0).Valid())
}
