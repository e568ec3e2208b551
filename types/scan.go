package types

import "time"

// ScanStatus tracks the lifecycle of a scan or a tagging run.
// It only ever advances: IN_PROGRESS -> COMPLETED or FAILED.
type ScanStatus string

const (
	ScanInProgress ScanStatus = "IN_PROGRESS"
	ScanCompleted  ScanStatus = "COMPLETED"
	ScanFailed     ScanStatus = "FAILED"
)

// ScanType distinguishes metadata bases from tagging runs.
// Both behave identically in the engine; the distinction is kept
// for consumers that browse scan history.
type ScanType string

const (
	ScanTypeMetadataBase ScanType = "METADATA_BASE"
	ScanTypeTaggingRun   ScanType = "TAGGING_RUN"
)

// TagAction is what the tagging engine does with the tag set.
type TagAction int

const (
	TagActionApply  TagAction = 1
	TagActionRemove TagAction = 2
)

// String returns the wire name of the action.
func (a TagAction) String() string {
	switch a {
	case TagActionApply:
		return "APPLY"
	case TagActionRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the action is one the engine knows.
func (a TagAction) Valid() bool {
	return a == TagActionApply || a == TagActionRemove
}

// Scan is one discovery execution and, optionally, the tagging run
// that follows it. One row per scan; the discovery engine owns the
// status/count fields and the tagging engine owns the tagging_* fields.
type Scan struct {
	ScanID        string     `json:"scan_id"`
	Name          string     `json:"name"`
	Parameters    string     `json:"parameters"` // serialized ScanSpec
	Type          ScanType   `json:"type"`
	Status        ScanStatus `json:"status"`
	Message       string     `json:"message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       time.Time  `json:"ended_at,omitempty"`
	ResourceCount int        `json:"resource_count"`

	TaggingStatus       ScanStatus `json:"tagging_status,omitempty"`
	TaggingStartedAt    time.Time  `json:"tagging_started_at,omitempty"`
	TaggingEndedAt      time.Time  `json:"tagging_ended_at,omitempty"`
	TaggingMessage      string     `json:"tagging_message,omitempty"`
	TaggingSuccessCount int        `json:"tagging_success_count"`
	TaggingErrorCount   int        `json:"tagging_error_count"`
	Action              TagAction  `json:"action,omitempty"`
}

// TagErrorRecord is written once per resource that failed a tag operation.
type TagErrorRecord struct {
	ScanID     string `json:"scan_id"`
	AccountID  string `json:"account_id"`
	Region     string `json:"region"`
	Service    string `json:"service"`
	ResourceID string `json:"resource_id"`
	ARN        string `json:"arn"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

// Profile is a named, reusable scan spec.
type Profile struct {
	ProfileID   string `json:"profile_id"`
	JSONProfile string `json:"json_profile"`
}
