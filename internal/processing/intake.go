// Package processing owns the message lifecycle: intake, background
// conversion through the agent, and status reporting.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/hl7"
	"github.com/minasoft/hl7-liteboard/internal/store"
)

var (
	ErrPersistence      = errors.New("kalıcı kayıt hatası")
	ErrAlreadyProcessed = errors.New("mesaj zaten işleme alınmış")
	ErrDispatch         = errors.New("dönüşüm işi zamanlanamadı")
)

// Job identifies one background conversion.
type Job struct {
	MessageID string `json:"id"`
	Raw       string `json:"-"`
}

// Dispatcher schedules a conversion job to run detached from the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Coordinator validates, summarizes and persists incoming messages and
// schedules exactly one conversion for each accepted message.
type Coordinator struct {
	store      store.Messages
	dispatcher Dispatcher
	now        func() time.Time
}

func NewCoordinator(st store.Messages, dispatcher Dispatcher) *Coordinator {
	return &Coordinator{
		store:      st,
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Intake validates raw and persists a Pending record. It does not schedule
// a conversion.
func (c *Coordinator) Intake(ctx context.Context, raw, filename string) (*db.MessageRecord, error) {
	if err := hl7.Validate(raw); err != nil {
		return nil, err
	}

	summary := hl7.Summarize(raw)
	now := c.now()

	rec := &db.MessageRecord{
		ID:               uuid.New().String(),
		OriginalFilename: filename,
		RawContent:       raw,
		MessageType:      summary.MessageType,
		TriggerEvent:     summary.TriggerEvent,
		ControlID:        summary.ControlID,
		PatientID:        summary.PatientID,
		PatientFirstName: summary.Name.First,
		PatientLastName:  summary.Name.Last,
		PatientDOB:       summary.DateOfBirth,
		PatientGender:    summary.Gender,
		VisitNumber:      summary.VisitNumber,
		AdmissionDate:    summary.AdmissionDate,
		DischargeDate:    summary.DischargeDate,
		State:            db.StatePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.store.CreateMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	slog.Info("HL7 mesajı kabul edildi",
		"id", rec.ID,
		"filename", filename,
		"messageType", rec.MessageType)

	return rec, nil
}

// Submit runs Intake and dispatches the conversion. When dispatch fails the
// record stays Pending and its id is returned together with ErrDispatch.
func (c *Coordinator) Submit(ctx context.Context, raw, filename string) (string, error) {
	rec, err := c.Intake(ctx, raw, filename)
	if err != nil {
		return "", err
	}

	if err := c.dispatcher.Dispatch(ctx, Job{MessageID: rec.ID, Raw: raw}); err != nil {
		slog.Error("Dönüşüm işi zamanlanamadı", "id", rec.ID, "error", err)
		return rec.ID, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return rec.ID, nil
}
