package log

// Canonical field name constants for structured logging.
const (
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldJobID         = "job_id"

	FieldEvent     = "event"
	FieldComponent = "component"

	FieldVideoID = "video_id"
	FieldStage   = "stage"
	FieldHouse   = "house"
)
