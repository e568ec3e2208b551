// Package adapters defines the service adapter contract and the
// compile-time registry that discovery and tagging fan out through.
// Each cloud service contributes one Adapter, registered from its
// package init; "loading adapters" is a build-time decision.
package adapters

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/types"
)

// GlobalRegion is reported by adapters for globally-scoped services
// (DNS, IAM and friends) that pin their API calls to one region.
const GlobalRegion = "global"

// ResourceTypeConfig describes how one resource type of a service is
// listed, identified and ARN-formatted. It must be constructible with
// no cloud credentials; the registry reads it at startup to build the
// service catalog.
type ResourceTypeConfig struct {
	// ListOperation names the SDK call used to enumerate the type.
	ListOperation string
	// IDField / NameField / CreatedField name the source fields on the
	// raw service item, for operators debugging adapter output.
	IDField      string
	NameField    string
	CreatedField string
	// ARNFormat is a fmt template over (partition fields vary per
	// service); empty when ARNIsDirect is set.
	ARNFormat string
	// ARNIsDirect means the list response already carries the full ARN.
	ARNIsDirect bool
	// Global pins the adapter to the canonical region and reports
	// region = "global" on records.
	Global bool
	// Nested means list results are wrapped one level deep
	// (e.g. reservations around instances).
	Nested bool
	// RequiresParent names a resource type that must be enumerated
	// first, with one child listing per parent.
	RequiresParent string
}

// DiscoverResult is everything one discovery task returns.
type DiscoverResult struct {
	// Key is "<service>:<rtype>".
	Key     string
	Status  string // types.StatusSuccess | types.StatusError
	Message string
	Records []types.ResourceRecord
}

// Adapter is the per-service plugin contract. Discover must paginate to
// completion, tolerate the service being unavailable or denied in a
// region (success with no records), and populate every record field.
// Tag must keep going after individual resource failures and return one
// outcome per record.
type Adapter interface {
	Service() string
	ServiceTypes() map[string]ResourceTypeConfig
	Discover(ctx context.Context, cfg aws.Config, accountID, region, resourceType string, log zerolog.Logger) DiscoverResult
	Tag(ctx context.Context, cfg aws.Config, accountID, region string, records []types.ResourceRecord, tagExpr string, action types.TagAction, log zerolog.Logger) []types.TagOutcome
}
