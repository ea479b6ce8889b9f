package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minasoft/hl7-liteboard/internal/agent"
	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
	"github.com/sourcegraph/conc"
)

// OrchestratorStore is the persistence surface the orchestrator writes to.
type OrchestratorStore interface {
	store.Messages
	store.Logs
}

// Orchestrator drives one message from Pending to a terminal state.
type Orchestrator struct {
	store     OrchestratorStore
	converter agent.Converter
	formats   []db.Format
	now       func() time.Time
}

// NewOrchestrator builds an orchestrator that always requests XML and JSON,
// and PDF as well when withPDF is set.
func NewOrchestrator(st OrchestratorStore, converter agent.Converter, withPDF bool) *Orchestrator {
	formats := []db.Format{db.FormatXML, db.FormatJSON}
	if withPDF {
		formats = append(formats, db.FormatPDF)
	}
	return &Orchestrator{
		store:     st,
		converter: converter,
		formats:   formats,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type conversionOutcome struct {
	format    db.Format
	result    agent.Result
	err       error
	startedAt time.Time
	endedAt   time.Time
}

// Run converts job's message. The returned state is the terminal state that
// was persisted; on persistence failure the error wraps ErrPersistence.
func (o *Orchestrator) Run(ctx context.Context, job Job) (db.ProcessingState, error) {
	if err := o.store.TransitionState(ctx, job.MessageID, db.StatePending, db.StateProcessing); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyProcessed, job.MessageID)
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	slog.Info("Dönüşüm başladı", "id", job.MessageID, "formats", o.formats, "agent", o.converter.Name())

	outcomes := make([]conversionOutcome, len(o.formats))
	var wg conc.WaitGroup
	for i, format := range o.formats {
		wg.Go(func() {
			started := o.now()
			res, err := o.converter.Convert(ctx, format, job.Raw)
			outcomes[i] = conversionOutcome{
				format:    format,
				result:    res,
				err:       err,
				startedAt: started,
				endedAt:   o.now(),
			}
		})
	}
	wg.Wait()

	var update db.ContentUpdate
	succeeded := make(map[db.Format]bool, len(outcomes))
	for _, out := range outcomes {
		if out.err != nil {
			o.recordFailure(ctx, job.MessageID, out)
			continue
		}
		switch out.format {
		case db.FormatXML:
			update.XML = out.result.XML
		case db.FormatJSON:
			update.JSON = out.result.JSON
		case db.FormatPDF:
			update.PDF = out.result.PDF
		}
		succeeded[out.format] = true
	}

	if !update.Empty() {
		if err := o.store.UpdateContent(ctx, job.MessageID, update); err != nil {
			slog.Error("Dönüşüm içeriği kaydedilemedi", "id", job.MessageID, "error", err)
			if terr := o.store.TransitionState(ctx, job.MessageID, db.StateProcessing, db.StateFailed); terr != nil {
				slog.Error("Mesaj başarısız olarak işaretlenemedi", "id", job.MessageID, "error", terr)
			}
			return db.StateFailed, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	final := FinalState(succeeded, len(o.formats))
	if err := o.store.TransitionState(ctx, job.MessageID, db.StateProcessing, final); err != nil {
		slog.Error("Son durum kaydedilemedi", "id", job.MessageID, "state", final, "error", err)
		return final, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	slog.Info("Dönüşüm tamamlandı", "id", job.MessageID, "state", final, "succeeded", len(succeeded))
	return final, nil
}

// FinalState decides the terminal state from the formats that succeeded
// out of requested. XML and JSON are primary; PDF alone never downgrades.
func FinalState(succeeded map[db.Format]bool, requested int) db.ProcessingState {
	switch {
	case len(succeeded) == 0 || requested == 0:
		return db.StateFailed
	case succeeded[db.FormatXML] && succeeded[db.FormatJSON]:
		return db.StateCompleted
	default:
		return db.StatePartial
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, messageID string, out conversionOutcome) {
	slog.Warn("Format dönüşümü başarısız",
		"id", messageID,
		"format", out.format,
		"error", out.err)

	started, ended := out.startedAt, out.endedAt
	entry := &db.ProcessingLogEntry{
		ID:             uuid.New().String(),
		MessageID:      messageID,
		AgentName:      o.converter.Name(),
		ProcessingStep: "convert_" + string(out.format),
		Status:         db.LogError,
		ErrorMessage:   out.err.Error(),
		StartedAt:      &started,
		CompletedAt:    &ended,
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendLog(ctx, entry); err != nil {
		slog.Error("İşlem logu yazılamadı", "id", messageID, "error", err)
	}
}
