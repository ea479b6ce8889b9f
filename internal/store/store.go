// Package store defines the persistence contract shared by the message
// intake, the conversion orchestrator and the status tracker.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"

	"github.com/minasoft/hl7-liteboard/internal/db"
)

var (
	ErrNotFound          = errors.New("kayıt bulunamadı")
	ErrAlreadyExists     = errors.New("kayıt zaten mevcut")
	ErrStateConflict     = errors.New("işlem durumu beklenen durumda değil")
	ErrDuplicateContent  = errors.New("bu HL7 mesajı zaten kaydedilmiş")
	ErrInvalidTransition = errors.New("geçersiz durum geçişi")
)

// Messages persists MessageRecords. Content and state are written by
// separate calls and are never rolled back together.
type Messages interface {
	CreateMessage(ctx context.Context, rec *db.MessageRecord) error
	GetMessage(ctx context.Context, id string) (*db.MessageRecord, error)
	GetState(ctx context.Context, id string) (db.ProcessingState, error)
	// UpdateContent writes only the non-nil payloads of u.
	UpdateContent(ctx context.Context, id string, u db.ContentUpdate) error
	// TransitionState moves id from one state to the next, failing with
	// ErrStateConflict when the stored state is not from.
	TransitionState(ctx context.Context, id string, from, to db.ProcessingState) error
}

// Logs is the append-only processing log.
type Logs interface {
	AppendLog(ctx context.Context, entry *db.ProcessingLogEntry) error
	ListLogs(ctx context.Context, messageID string) ([]db.ProcessingLogEntry, error)
}

// Conversions persists saved conversions, unique on the content hash.
type Conversions interface {
	SaveConversion(ctx context.Context, conv *db.SavedConversion) error
	GetConversion(ctx context.Context, id string) (*db.SavedConversion, error)
	DeleteConversion(ctx context.Context, id string) error
}

// Store is the full persistence surface.
type Store interface {
	Messages
	Logs
	Conversions
	Ping(ctx context.Context) error
	Close() error
}

// ContentHash is the uniqueness key for saved conversions.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CheckTransition validates a state move before any backend writes it.
func CheckTransition(from, to db.ProcessingState) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	return nil
}
