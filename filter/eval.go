package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/magpie-cloud/magpie/types"
)

// Record is the fixed evaluation schema. Only these fields are visible
// to filter expressions.
type Record struct {
	AccountID    string
	Region       string
	Service      string
	ResourceType string
	ResourceID   string
	Name         string
	Tags         map[string]string
	TagsNumber   int
	ARN          string
}

// RecordFrom projects a resource record onto the filter schema.
func RecordFrom(r types.ResourceRecord) Record {
	return Record{
		AccountID:    r.AccountID,
		Region:       r.Region,
		Service:      r.Service,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Name:         r.Name,
		Tags:         r.Tags,
		TagsNumber:   r.TagsNumber,
		ARN:          r.ARN,
	}
}

// Matches evaluates the expression against a resource record.
func Matches(expr Expr, r types.ResourceRecord) (bool, error) {
	return expr.eval(RecordFrom(r))
}

// value is an operand resolved against a record. Numbers keep their
// numeric form so tags_number compares numerically.
type value struct {
	str     string
	num     int64
	numeric bool
}

type operand interface {
	resolve(rec Record) value
}

type stringOperand string

func (s stringOperand) resolve(Record) value { return value{str: string(s)} }

type numberOperand string

func (n numberOperand) resolve(Record) value {
	v, _ := strconv.ParseInt(string(n), 10, 64)
	return value{str: string(n), num: v, numeric: true}
}

type fieldOperand string

func (f fieldOperand) resolve(rec Record) value {
	switch string(f) {
	case "account_id":
		return value{str: rec.AccountID}
	case "region":
		return value{str: rec.Region}
	case "service":
		return value{str: rec.Service}
	case "resource_type":
		return value{str: rec.ResourceType}
	case "resource_id":
		return value{str: rec.ResourceID}
	case "name":
		return value{str: rec.Name}
	case "arn":
		return value{str: rec.ARN}
	case "tags_number":
		n := int64(rec.TagsNumber)
		return value{str: strconv.FormatInt(n, 10), num: n, numeric: true}
	default:
		return value{}
	}
}

type tagOperand string

func (t tagOperand) resolve(rec Record) value {
	return value{str: rec.Tags[string(t)]}
}

type cmpExpr struct {
	op          string
	left, right operand
}

func (c *cmpExpr) eval(rec Record) (bool, error) {
	l := c.left.resolve(rec)
	r := c.right.resolve(rec)

	var ord int
	if l.numeric && r.numeric {
		switch {
		case l.num < r.num:
			ord = -1
		case l.num > r.num:
			ord = 1
		}
	} else {
		ord = strings.Compare(l.str, r.str)
	}

	switch c.op {
	case "=", "==":
		return ord == 0, nil
	case "!=", "<>":
		return ord != 0, nil
	case "<":
		return ord < 0, nil
	case "<=":
		return ord <= 0, nil
	case ">":
		return ord > 0, nil
	case ">=":
		return ord >= 0, nil
	default:
		return false, fmt.Errorf("unsupported comparison operator %q", c.op)
	}
}

type likeExpr struct {
	operand operand
	re      *regexp.Regexp
}

// newLikeExpr compiles a SQL LIKE pattern. % matches any run and _ one
// character; everything else is literal.
func newLikeExpr(op operand, pattern string) (Expr, error) {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid LIKE pattern %q: %w", pattern, err)
	}
	return &likeExpr{operand: op, re: re}, nil
}

func (l *likeExpr) eval(rec Record) (bool, error) {
	return l.re.MatchString(l.operand.resolve(rec).str), nil
}

type inTagsExpr struct {
	key operand
}

func (e *inTagsExpr) eval(rec Record) (bool, error) {
	_, ok := rec.Tags[e.key.resolve(rec).str]
	return ok, nil
}
