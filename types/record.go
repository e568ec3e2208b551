package types

import "encoding/json"

// RecordAction is the classification of a discovered record.
type RecordAction string

const (
	ActionUnset          RecordAction = "UNSET"
	ActionKeepForTagging RecordAction = "KEEP_FOR_TAGGING"
	ActionExclude        RecordAction = "EXCLUDE"
)

// ResourceRecord is the normalized inventory row produced by an
// adapter's Discover. Immutable after insertion except for Action.
// Primary key is (ScanID, Seq); Seq is dense and 1-based within a scan.
type ResourceRecord struct {
	ScanID       string            `json:"scan_id"`
	Seq          int               `json:"seq"`
	AccountID    string            `json:"account_id"`
	Region       string            `json:"region"`
	Service      string            `json:"service"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Name         string            `json:"name"`
	CreationDate string            `json:"creation_date"`
	Tags         map[string]string `json:"tags"`
	TagsNumber   int               `json:"tags_number"`
	Metadata     json.RawMessage   `json:"metadata,omitempty"`
	ARN          string            `json:"arn"`
	Action       RecordAction      `json:"action"`
}

// TagOutcome is one per-resource result from an adapter's Tag call.
type TagOutcome struct {
	AccountID  string `json:"account_id"`
	Region     string `json:"region"`
	Service    string `json:"service"`
	Identifier string `json:"identifier"`
	ARN        string `json:"arn"`
	Status     string `json:"status"` // "success" | "error"
	Error      string `json:"error,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// EncodeMetadata marshals the raw service item plus an adapter-supplied
// extra section into the record's opaque metadata document. The engine
// never looks inside it.
func EncodeMetadata(item any, extra map[string]any) json.RawMessage {
	doc := map[string]any{"item": item}
	if len(extra) > 0 {
		doc["additional_metadata"] = extra
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
