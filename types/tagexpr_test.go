package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTagExpression(t *testing.T) {
	t.Run("single pair", func(t *testing.T) {
		pairs, err := ParseTagExpression("owner:platform")
		require.NoError(t, err)
		assert.Equal(t, []TagPair{{Key: "owner", Value: "platform"}}, pairs)
	})

	t.Run("multiple pairs with whitespace", func(t *testing.T) {
		pairs, err := ParseTagExpression(" owner : platform , env : prod ")
		require.NoError(t, err)
		assert.Equal(t, []TagPair{
			{Key: "owner", Value: "platform"},
			{Key: "env", Value: "prod"},
		}, pairs)
	})

	t.Run("value-less key for removal", func(t *testing.T) {
		pairs, err := ParseTagExpression("deprecated")
		require.NoError(t, err)
		assert.Equal(t, []TagPair{{Key: "deprecated", Value: ""}}, pairs)
	})

	t.Run("empty expression", func(t *testing.T) {
		_, err := ParseTagExpression("")
		assert.Error(t, err)
	})

	t.Run("only commas", func(t *testing.T) {
		_, err := ParseTagExpression(", ,")
		assert.Error(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := ParseTagExpression(":value")
		assert.Error(t, err)
	})
}

func TestFormatTagExpression(t *testing.T) {
	pairs := []TagPair{{Key: "owner", Value: "platform"}, {Key: "env", Value: "prod"}}
	assert.Equal(t, "owner:platform,env:prod", FormatTagExpression(pairs))

	back, err := ParseTagExpression(FormatTagExpression(pairs))
	require.NoError(t, err)
	assert.Equal(t, pairs, back)
}

func TestTagProjections(t *testing.T) {
	pairs := []TagPair{{Key: "owner", Value: "platform"}, {Key: "env", Value: "prod"}}
	assert.Equal(t, []string{"owner", "env"}, TagKeys(pairs))
	assert.Equal(t, map[string]string{"owner": "platform", "env": "prod"}, TagMap(pairs))
}
