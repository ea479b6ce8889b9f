package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/db"
	embedded "github.com/minasoft/hl7-liteboard/internal/nats"
	"github.com/minasoft/hl7-liteboard/internal/processing"
	"github.com/minasoft/hl7-liteboard/internal/store"
	"github.com/nats-io/nats.go/jetstream"
)

const consumerName = "conversion-worker"

var _ processing.Dispatcher = (*ConversionQueue)(nil)

// ConversionQueue carries conversion jobs through the HL7_CONVERSIONS
// stream. Only the message id travels; the raw text is reloaded from the
// store when the job is handed to the worker pool.
type ConversionQueue struct {
	js       jetstream.JetStream
	messages store.Messages
	workers  processing.Dispatcher
}

func NewConversionQueue(js jetstream.JetStream, messages store.Messages, workers processing.Dispatcher) *ConversionQueue {
	return &ConversionQueue{
		js:       js,
		messages: messages,
		workers:  workers,
	}
}

// Dispatch publishes job. The id doubles as the JetStream message id so a
// repeated publish inside the dedup window is dropped by the server.
func (q *ConversionQueue) Dispatch(ctx context.Context, job processing.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("%s.%s", embedded.ConversionSubject, job.MessageID)
	if _, err := q.js.Publish(ctx, subject, data, jetstream.WithMsgID(job.MessageID)); err != nil {
		return fmt.Errorf("dönüşüm işi yayınlanamadı: %w", err)
	}

	slog.Debug("Dönüşüm işi kuyruğa eklendi", "id", job.MessageID, "subject", subject)
	return nil
}

// Start attaches the durable consumer and feeds jobs to the worker pool
// until ctx is cancelled.
func (q *ConversionQueue) Start(ctx context.Context) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, embedded.ConversionsStream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		Description:   "Dönüşüm işlerini iş havuzuna aktaran consumer",
		FilterSubject: embedded.ConversionSubject + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    1,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
	})
	if err != nil {
		return fmt.Errorf("conversion consumer başlatılamadı: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("conversion consumer başlatılamadı: %w", err)
	}

	slog.Info("Conversion consumer başlatıldı", "stream", embedded.ConversionsStream)

	go func() {
		<-ctx.Done()
		cons.Stop()
	}()
	return nil
}

func (q *ConversionQueue) handle(ctx context.Context, msg jetstream.Msg) {
	// Acked on receipt: a job is delivered at most once.
	if err := msg.Ack(); err != nil {
		slog.Warn("Dönüşüm işi onaylanamadı", "subject", msg.Subject(), "error", err)
	}

	var job processing.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.MessageID == "" {
		slog.Error("Dönüşüm işi çözümlenemedi", "subject", msg.Subject(), "error", err)
		return
	}

	rec, err := q.messages.GetMessage(ctx, job.MessageID)
	if err != nil {
		slog.Error("Dönüşüm işi için mesaj okunamadı", "id", job.MessageID, "error", err)
		return
	}
	if rec.State != db.StatePending {
		slog.Info("Mesaj zaten işlenmiş, iş atlandı", "id", job.MessageID, "state", rec.State)
		return
	}

	job.Raw = rec.RawContent
	if err := q.workers.Dispatch(ctx, job); err != nil {
		slog.Error("Dönüşüm işi iş havuzuna verilemedi", "id", job.MessageID, "error", err)
	}
}
