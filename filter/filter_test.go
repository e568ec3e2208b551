package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-cloud/magpie/types"
)

func testRecord() types.ResourceRecord {
	return types.ResourceRecord{
		AccountID:    "111111111111",
		Region:       "us-east-1",
		Service:      "ec2",
		ResourceType: "Instance",
		ResourceID:   "i-0abc",
		Name:         "web-frontend-1",
		Tags:         map[string]string{"env": "prod", "owner": "platform"},
		TagsNumber:   2,
		ARN:          "arn:aws:ec2:us-east-1:111111111111:instance/i-0abc",
	}
}

func TestFilterMatching(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		match bool
	}{
		{"blank is true", "", true},
		{"whitespace is true", "   ", true},
		{"equality single equals", "region = 'us-east-1'", true},
		{"equality double equals", "service == 'ec2'", true},
		{"inequality", "region != 'eu-west-1'", true},
		{"angle inequality", "region <> 'us-east-1'", false},
		{"numeric equality", "tags_number == 2", true},
		{"numeric zero", "tags_number == 0", false},
		{"numeric less than", "tags_number < 5", true},
		{"numeric greater or equal", "tags_number >= 2", true},
		{"like prefix", "name LIKE 'web-%'", true},
		{"like underscore", "name LIKE 'web-frontend-_'", true},
		{"like no match", "name LIKE 'db-%'", false},
		{"like is literal otherwise", "name LIKE 'web.frontend-1'", false},
		{"key in tags", "'env' in tags", true},
		{"missing key in tags", "'cost-center' in tags", false},
		{"tag lookup", "tags['env'] = 'prod'", true},
		{"missing tag lookup reads empty", "tags['missing'] = ''", true},
		{"and", "service = 'ec2' AND region = 'us-east-1'", true},
		{"and short circuit", "service = 'rds' AND region = 'us-east-1'", false},
		{"or", "service = 'rds' OR region = 'us-east-1'", true},
		{"not", "NOT service = 'rds'", true},
		{"symbol operators", "service = 'ec2' && (region = 'eu-west-1' || !('env' in tags))", false},
		{"parentheses change binding", "(service = 'rds' OR service = 'ec2') AND tags_number > 0", true},
		{"case-insensitive keywords", "service = 'ec2' and not region = 'eu-west-1'", true},
		{"double-quoted strings", `account_id = "111111111111"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.expr)
			require.NoError(t, err)
			got, err := Matches(expr, testRecord())
			require.NoError(t, err)
			assert.Equal(t, tt.match, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"unknown field", "color = 'red'"},
		{"dangling operator", "region ="},
		{"unterminated string", "region = 'us-east-1"},
		{"missing close paren", "(region = 'us-east-1'"},
		{"in against non-tags", "'env' in regions"},
		{"like without string", "name LIKE 5"},
		{"bare tags without lookup", "tags = 'x'"},
		{"trailing garbage", "region = 'us-east-1' region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestNumericVsStringComparison(t *testing.T) {
	// A numeric literal against a string field compares as strings.
	rec := testRecord()
	rec.Name = "9"

	expr, err := Parse("name < '10'")
	require.NoError(t, err)
	got, err := Matches(expr, rec)
	require.NoError(t, err)
	assert.False(t, got, "string comparison: \"9\" > \"10\"")

	expr, err = Parse("tags_number < 10")
	require.NoError(t, err)
	got, err = Matches(expr, rec)
	require.NoError(t, err)
	assert.True(t, got, "numeric comparison: 2 < 10")
}
