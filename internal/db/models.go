package db

import (
	"encoding/json"
	"time"
)

// ProcessingState tracks a message through the conversion pipeline.
type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateCompleted  ProcessingState = "completed"
	StateFailed     ProcessingState = "failed"
	StatePartial    ProcessingState = "partial"
)

// Terminal reports whether no further transition is expected in the current run.
func (s ProcessingState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StatePartial
}

// CanTransition reports whether moving from s to next keeps the state monotonic.
func (s ProcessingState) CanTransition(next ProcessingState) bool {
	switch s {
	case StatePending:
		return next == StateProcessing
	case StateProcessing:
		return next.Terminal()
	default:
		return false
	}
}

// Format is a derived representation produced by the conversion agent.
type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a user supplied name to a Format.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatXML, FormatJSON, FormatPDF:
		return Format(s), true
	}
	return "", false
}

// MessageRecord is the persisted view of one ingested HL7 message.
// Nil pointer fields are absent values; they are never written as empty strings.
type MessageRecord struct {
	ID               string          `json:"id"`
	OriginalFilename string          `json:"original_filename"`
	RawContent       string          `json:"raw_content"`
	MessageType      string          `json:"message_type"`
	TriggerEvent     *string         `json:"trigger_event,omitempty"`
	ControlID        *string         `json:"control_id,omitempty"`
	PatientID        *string         `json:"patient_id,omitempty"`
	PatientFirstName *string         `json:"patient_first_name,omitempty"`
	PatientLastName  *string         `json:"patient_last_name,omitempty"`
	PatientDOB       *time.Time      `json:"patient_dob,omitempty"`
	PatientGender    *string         `json:"patient_gender,omitempty"`
	VisitNumber      *string         `json:"visit_number,omitempty"`
	AdmissionDate    *time.Time      `json:"admission_date,omitempty"`
	DischargeDate    *time.Time      `json:"discharge_date,omitempty"`
	State            ProcessingState `json:"state"`
	XMLContent       *string         `json:"xml_content,omitempty"`
	JSONContent      json.RawMessage `json:"json_content,omitempty"`
	PDFContent       []byte          `json:"pdf_content,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasFormat reports whether the converted payload for f is stored.
func (m *MessageRecord) HasFormat(f Format) bool {
	switch f {
	case FormatXML:
		return m.XMLContent != nil
	case FormatJSON:
		return len(m.JSONContent) > 0
	case FormatPDF:
		return len(m.PDFContent) > 0
	}
	return false
}

// ContentUpdate is a sparse update: nil fields leave stored values untouched.
type ContentUpdate struct {
	XML  *string
	JSON json.RawMessage
	PDF  []byte
}

// Empty reports whether the update carries no payload at all.
func (u ContentUpdate) Empty() bool {
	return u.XML == nil && len(u.JSON) == 0 && len(u.PDF) == 0
}

// LogError is the status of a failed sub-conversion log entry.
const LogError = "error"

// ProcessingLogEntry is an append-only audit record for a message.
type ProcessingLogEntry struct {
	ID             string     `json:"id"`
	MessageID      string     `json:"message_id"`
	AgentName      string     `json:"agent_name"`
	ProcessingStep string     `json:"processing_step"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SavedConversion is a user-saved conversion result, unique per original HL7 text.
type SavedConversion struct {
	ID              string          `json:"id"`
	OriginalContent string          `json:"original_hl7_content"`
	ContentHash     string          `json:"content_hash"`
	JSONContent     json.RawMessage `json:"json_content,omitempty"`
	XMLContent      *string         `json:"xml_content,omitempty"`
	Metadata        json.RawMessage `json:"conversion_metadata,omitempty"`
	UserID          *string         `json:"user_id,omitempty"`
	Title           *string         `json:"title,omitempty"`
	Description     *string         `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
