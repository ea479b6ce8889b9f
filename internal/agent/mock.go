package agent

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/hl7"
)

var _ Converter = (*Mock)(nil)

// Mock renders conversions locally from the parsed message summary. It is
// used for development when no agent is reachable (AGENT_MODE=mock).
type Mock struct {
	Delay time.Duration
}

type mockXMLMessage struct {
	XMLName      xml.Name `xml:"HL7Message"`
	MessageType  string   `xml:"MessageHeader>MessageType"`
	TriggerEvent string   `xml:"MessageHeader>TriggerEvent,omitempty"`
	ControlID    string   `xml:"MessageHeader>ControlID,omitempty"`
	ProcessedBy  string   `xml:"MessageHeader>ProcessedBy"`
	PatientID    string   `xml:"PatientInfo>PatientID,omitempty"`
	FirstName    string   `xml:"PatientInfo>Name>FirstName,omitempty"`
	LastName     string   `xml:"PatientInfo>Name>LastName,omitempty"`
	DateOfBirth  string   `xml:"PatientInfo>DateOfBirth,omitempty"`
	Gender       string   `xml:"PatientInfo>Gender,omitempty"`
	VisitNumber  string   `xml:"VisitInfo>VisitNumber,omitempty"`
	Admission    string   `xml:"VisitInfo>AdmissionDate,omitempty"`
}

type mockJSONMessage struct {
	MessageHeader struct {
		MessageType  string  `json:"messageType"`
		TriggerEvent *string `json:"triggerEvent,omitempty"`
		ControlID    *string `json:"controlId,omitempty"`
		ProcessedBy  string  `json:"processedBy"`
	} `json:"messageHeader"`
	Patient hl7.Summary `json:"patient"`
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Convert(ctx context.Context, format db.Format, raw string) (Result, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %v", ErrFormatUnavailable, ctx.Err())
		}
	}

	summary := hl7.Summarize(raw)

	switch format {
	case db.FormatXML:
		doc := mockXMLMessage{
			MessageType:  summary.MessageType,
			TriggerEvent: deref(summary.TriggerEvent),
			ControlID:    deref(summary.ControlID),
			ProcessedBy:  "Mock Agent",
			PatientID:    deref(summary.PatientID),
			FirstName:    deref(summary.Name.First),
			LastName:     deref(summary.Name.Last),
			Gender:       deref(summary.Gender),
			VisitNumber:  deref(summary.VisitNumber),
		}
		if summary.DateOfBirth != nil {
			doc.DateOfBirth = summary.DateOfBirth.Format("2006-01-02")
		}
		if summary.AdmissionDate != nil {
			doc.Admission = summary.AdmissionDate.Format(time.RFC3339)
		}
		out, err := xml.MarshalIndent(doc, "", "    ")
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrFormatUnavailable, err)
		}
		text := xml.Header + string(out)
		return Result{XML: &text}, nil

	case db.FormatJSON:
		var doc mockJSONMessage
		doc.MessageHeader.MessageType = summary.MessageType
		doc.MessageHeader.TriggerEvent = summary.TriggerEvent
		doc.MessageHeader.ControlID = summary.ControlID
		doc.MessageHeader.ProcessedBy = "Mock Agent"
		doc.Patient = summary
		out, err := json.Marshal(doc)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrFormatUnavailable, err)
		}
		return Result{JSON: out}, nil

	case db.FormatPDF:
		return Result{PDF: []byte(mockPDF)}, nil
	}

	return Result{}, fmt.Errorf("%w: bilinmeyen format %q", ErrFormatUnavailable, format)
}

func (m *Mock) Health(context.Context) error { return nil }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const mockPDF = `%PDF-1.4
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R] /Count 1 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>
endobj
4 0 obj
<< /Length 44 >>
stream
BT
/F1 12 Tf
72 720 Td
(Mock HL7 PDF Report) Tj
ET
endstream
endobj
trailer
<< /Size 5 /Root 1 0 R >>
%%EOF`
