// Package natsstore keeps messages, logs and saved conversions in JetStream.
//
// Message metadata lives in the HL7_MESSAGES key-value bucket, raw text and
// converted payloads in the HL7_FORMATS object store, processing logs in
// HL7_LOGS (one JSON array per message) and saved conversions in HL7_SAVED.
// Every read-modify-write goes through a revision check.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	MessagesBucket = "HL7_MESSAGES"
	FormatsBucket  = "HL7_FORMATS"
	LogsBucket     = "HL7_LOGS"
	SavedBucket    = "HL7_SAVED"

	maxCASAttempts = 10
)

var _ store.Store = (*Store)(nil)

type Store struct {
	js       jetstream.JetStream
	messages jetstream.KeyValue
	logs     jetstream.KeyValue
	saved    jetstream.KeyValue
	formats  jetstream.ObjectStore
}

// New opens the buckets, creating them on first use.
func New(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	messages, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      MessagesBucket,
		Description: "HL7 mesaj kayıtları ve işlem durumları",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("%s KV store oluşturulamadı: %w", MessagesBucket, err)
	}

	logs, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      LogsBucket,
		Description: "Mesaj bazında işlem logları",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("%s KV store oluşturulamadı: %w", LogsBucket, err)
	}

	saved, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      SavedBucket,
		Description: "Kaydedilmiş dönüşümler",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("%s KV store oluşturulamadı: %w", SavedBucket, err)
	}

	formats, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      FormatsBucket,
		Description: "Ham HL7 metni ve dönüştürülmüş XML/JSON/PDF içerikleri",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("%s object store oluşturulamadı: %w", FormatsBucket, err)
	}

	slog.Info("JetStream depolama hazır",
		"messages", MessagesBucket,
		"formats", FormatsBucket,
		"logs", LogsBucket,
		"saved", SavedBucket)

	return &Store{
		js:       js,
		messages: messages,
		logs:     logs,
		saved:    saved,
		formats:  formats,
	}, nil
}

func objectName(id, suffix string) string {
	return id + "." + suffix
}

// CreateMessage writes the raw text first so that a visible record always
// has its raw content.
func (s *Store) CreateMessage(ctx context.Context, rec *db.MessageRecord) error {
	if _, err := s.messages.Get(ctx, rec.ID); err == nil {
		return store.ErrAlreadyExists
	}

	if _, err := s.formats.PutBytes(ctx, objectName(rec.ID, "hl7"), []byte(rec.RawContent)); err != nil {
		return fmt.Errorf("ham mesaj yazılamadı: %w", err)
	}

	data, err := encodeMeta(rec)
	if err != nil {
		return err
	}
	if _, err := s.messages.Create(ctx, rec.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("mesaj kaydı yazılamadı: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*db.MessageRecord, error) {
	rec, _, err := s.getMeta(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := s.object(ctx, objectName(id, "hl7"))
	if err != nil {
		return nil, err
	}
	rec.RawContent = string(raw)

	xml, err := s.object(ctx, objectName(id, string(db.FormatXML)))
	if err != nil {
		return nil, err
	}
	if xml != nil {
		text := string(xml)
		rec.XMLContent = &text
	}

	if rec.JSONContent, err = s.object(ctx, objectName(id, string(db.FormatJSON))); err != nil {
		return nil, err
	}
	if rec.PDFContent, err = s.object(ctx, objectName(id, string(db.FormatPDF))); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) GetState(ctx context.Context, id string) (db.ProcessingState, error) {
	rec, _, err := s.getMeta(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

func (s *Store) UpdateContent(ctx context.Context, id string, u db.ContentUpdate) error {
	if _, _, err := s.getMeta(ctx, id); err != nil {
		return err
	}

	if u.XML != nil {
		if _, err := s.formats.PutBytes(ctx, objectName(id, string(db.FormatXML)), []byte(*u.XML)); err != nil {
			return fmt.Errorf("xml içeriği yazılamadı: %w", err)
		}
	}
	if len(u.JSON) > 0 {
		if _, err := s.formats.PutBytes(ctx, objectName(id, string(db.FormatJSON)), u.JSON); err != nil {
			return fmt.Errorf("json içeriği yazılamadı: %w", err)
		}
	}
	if len(u.PDF) > 0 {
		if _, err := s.formats.PutBytes(ctx, objectName(id, string(db.FormatPDF)), u.PDF); err != nil {
			return fmt.Errorf("pdf içeriği yazılamadı: %w", err)
		}
	}

	return s.modifyMeta(ctx, id, func(rec *db.MessageRecord) error {
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *Store) TransitionState(ctx context.Context, id string, from, to db.ProcessingState) error {
	if err := store.CheckTransition(from, to); err != nil {
		return err
	}

	return s.modifyMeta(ctx, id, func(rec *db.MessageRecord) error {
		if rec.State != from {
			return store.ErrStateConflict
		}
		rec.State = to
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *Store) AppendLog(ctx context.Context, entry *db.ProcessingLogEntry) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var entries []db.ProcessingLogEntry
		var revision uint64

		kve, err := s.logs.Get(ctx, entry.MessageID)
		switch {
		case err == nil:
			if err := json.Unmarshal(kve.Value(), &entries); err != nil {
				return fmt.Errorf("log kaydı çözümlenemedi: %w", err)
			}
			revision = kve.Revision()
		case errors.Is(err, jetstream.ErrKeyNotFound):
		default:
			return fmt.Errorf("log kaydı okunamadı: %w", err)
		}

		data, err := json.Marshal(append(entries, *entry))
		if err != nil {
			return err
		}

		if revision == 0 {
			_, err = s.logs.Create(ctx, entry.MessageID, data)
		} else {
			_, err = s.logs.Update(ctx, entry.MessageID, data, revision)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("log kaydı yazılamadı: %w", err)
		}
	}
	return fmt.Errorf("log kaydı yazılamadı: %w", store.ErrStateConflict)
}

func (s *Store) ListLogs(ctx context.Context, messageID string) ([]db.ProcessingLogEntry, error) {
	kve, err := s.logs.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("log kaydı okunamadı: %w", err)
	}

	var entries []db.ProcessingLogEntry
	if err := json.Unmarshal(kve.Value(), &entries); err != nil {
		return nil, fmt.Errorf("log kaydı çözümlenemedi: %w", err)
	}
	return entries, nil
}

func conversionKey(id string) string { return "conv." + id }
func hashKey(hash string) string     { return "hash." + hash }

// SaveConversion claims the content hash before writing the conversion so
// two identical texts can never both be stored.
func (s *Store) SaveConversion(ctx context.Context, conv *db.SavedConversion) error {
	if _, err := s.saved.Create(ctx, hashKey(conv.ContentHash), []byte(conv.ID)); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return store.ErrDuplicateContent
		}
		return fmt.Errorf("dönüşüm kaydedilemedi: %w", err)
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	if _, err := s.saved.Put(ctx, conversionKey(conv.ID), data); err != nil {
		if derr := s.saved.Delete(ctx, hashKey(conv.ContentHash)); derr != nil {
			slog.Warn("Hash anahtarı geri alınamadı", "hash", conv.ContentHash, "error", derr)
		}
		return fmt.Errorf("dönüşüm kaydedilemedi: %w", err)
	}
	return nil
}

func (s *Store) GetConversion(ctx context.Context, id string) (*db.SavedConversion, error) {
	kve, err := s.saved.Get(ctx, conversionKey(id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("dönüşüm okunamadı: %w", err)
	}

	var conv db.SavedConversion
	if err := json.Unmarshal(kve.Value(), &conv); err != nil {
		return nil, fmt.Errorf("dönüşüm çözümlenemedi: %w", err)
	}
	return &conv, nil
}

func (s *Store) DeleteConversion(ctx context.Context, id string) error {
	conv, err := s.GetConversion(ctx, id)
	if err != nil {
		return err
	}
	if err := s.saved.Delete(ctx, conversionKey(id)); err != nil {
		return fmt.Errorf("dönüşüm silinemedi: %w", err)
	}
	if err := s.saved.Delete(ctx, hashKey(conv.ContentHash)); err != nil {
		return fmt.Errorf("dönüşüm hash kaydı silinemedi: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.js.AccountInfo(ctx)
	return err
}

// Close is a no-op; the NATS connection belongs to the caller.
func (s *Store) Close() error { return nil }

func (s *Store) getMeta(ctx context.Context, id string) (*db.MessageRecord, uint64, error) {
	kve, err := s.messages.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, fmt.Errorf("mesaj kaydı okunamadı: %w", err)
	}

	var rec db.MessageRecord
	if err := json.Unmarshal(kve.Value(), &rec); err != nil {
		return nil, 0, fmt.Errorf("mesaj kaydı çözümlenemedi: %w", err)
	}
	return &rec, kve.Revision(), nil
}

func (s *Store) modifyMeta(ctx context.Context, id string, fn func(*db.MessageRecord) error) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, revision, err := s.getMeta(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}

		data, err := encodeMeta(rec)
		if err != nil {
			return err
		}
		if _, err := s.messages.Update(ctx, id, data, revision); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return fmt.Errorf("mesaj kaydı güncellenemedi: %w", err)
		}
		return nil
	}
	return store.ErrStateConflict
}

func (s *Store) object(ctx context.Context, name string) ([]byte, error) {
	data, err := s.formats.GetBytes(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s okunamadı: %w", name, err)
	}
	return data, nil
}

// encodeMeta stores the record without its payloads; those live in the
// object store.
func encodeMeta(rec *db.MessageRecord) ([]byte, error) {
	meta := *rec
	meta.RawContent = ""
	meta.XMLContent = nil
	meta.JSONContent = nil
	meta.PDFContent = nil
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("mesaj kaydı kodlanamadı: %w", err)
	}
	return data, nil
}
