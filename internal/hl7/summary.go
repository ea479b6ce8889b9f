package hl7

import (
	"strings"
	"time"
)

// UnknownMessageType is reported when MSH-9 carries no type.
const UnknownMessageType = "Unknown"

// Summary holds the header, patient and visit fields denormalized onto a
// stored message. Every pointer may be nil.
type Summary struct {
	MessageType   string     `json:"message_type"`
	TriggerEvent  *string    `json:"trigger_event,omitempty"`
	ControlID     *string    `json:"control_id,omitempty"`
	Version       *string    `json:"version,omitempty"`
	PatientID     *string    `json:"patient_id,omitempty"`
	Name          PersonName `json:"name"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	Gender        *string    `json:"gender,omitempty"`
	Address       Address    `json:"address"`
	Phone         *string    `json:"phone,omitempty"`
	VisitNumber   *string    `json:"visit_number,omitempty"`
	PatientClass  *string    `json:"patient_class,omitempty"`
	AdmissionDate *time.Time `json:"admission_date,omitempty"`
	DischargeDate *time.Time `json:"discharge_date,omitempty"`
}

// Summarize extracts the Summary from raw text using the encoding declared
// by its header.
func Summarize(text string) Summary {
	return SummarizeMessage(Parse(text))
}

// SummarizeMessage extracts the Summary from an already split message.
func SummarizeMessage(msg *Message) Summary {
	p := msg.Parser()
	s := Summary{MessageType: UnknownMessageType}

	if len(msg.Segments) > 0 && msg.Segments[0].Name == HeaderTag {
		msh := msg.Segments[0]
		msgType := msh.Field(9)
		if t := p.Component(msgType, 0); t != nil {
			s.MessageType = *t
		}
		s.TriggerEvent = p.Component(msgType, 1)
		s.ControlID = p.Normalize(msh.Field(10))
		s.Version = p.Normalize(msh.Field(12))
	}

	if pid := msg.Segment("PID"); pid != nil {
		s.PatientID = p.Identifier(pid.Field(3), "")
		s.Name = p.Name(pid.Field(5))
		s.DateOfBirth = p.Date(pid.Field(7))
		if g := p.Normalize(pid.Field(8)); g != nil {
			code := strings.ToUpper(string([]rune(*g)[:1]))
			s.Gender = &code
		}
		s.Address = p.Address(pid.Field(11))
		s.Phone = p.Phone(pid.Field(13))
	}

	if pv1 := msg.Segment("PV1"); pv1 != nil {
		s.PatientClass = p.Normalize(pv1.Field(2))
		s.VisitNumber = p.Normalize(pv1.Field(19))
		s.AdmissionDate = p.Timestamp(pv1.Field(44))
		s.DischargeDate = p.Timestamp(pv1.Field(45))
	}

	return s
}
