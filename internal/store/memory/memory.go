// Package memory is an in-process Store used by tests and STORE_BACKEND=memory.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	messages    map[string]*db.MessageRecord
	logs        map[string][]db.ProcessingLogEntry
	conversions map[string]*db.SavedConversion
	hashes      map[string]string
}

func New() *Store {
	return &Store{
		messages:    make(map[string]*db.MessageRecord),
		logs:        make(map[string][]db.ProcessingLogEntry),
		conversions: make(map[string]*db.SavedConversion),
		hashes:      make(map[string]string),
	}
}

func (s *Store) CreateMessage(_ context.Context, rec *db.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[rec.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.messages[rec.ID] = cloneMessage(rec)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*db.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(rec), nil
}

func (s *Store) GetState(_ context.Context, id string) (db.ProcessingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.messages[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return rec.State, nil
}

func (s *Store) UpdateContent(_ context.Context, id string, u db.ContentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.XML != nil {
		xml := *u.XML
		rec.XMLContent = &xml
	}
	if len(u.JSON) > 0 {
		rec.JSONContent = append(json.RawMessage(nil), u.JSON...)
	}
	if len(u.PDF) > 0 {
		rec.PDFContent = bytes.Clone(u.PDF)
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) TransitionState(_ context.Context, id string, from, to db.ProcessingState) error {
	if err := store.CheckTransition(from, to); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.State != from {
		return store.ErrStateConflict
	}
	rec.State = to
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendLog(_ context.Context, entry *db.ProcessingLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[entry.MessageID] = append(s.logs[entry.MessageID], *entry)
	return nil
}

func (s *Store) ListLogs(_ context.Context, messageID string) ([]db.ProcessingLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]db.ProcessingLogEntry(nil), s.logs[messageID]...), nil
}

func (s *Store) SaveConversion(_ context.Context, conv *db.SavedConversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[conv.ContentHash]; ok {
		return store.ErrDuplicateContent
	}
	c := *conv
	s.conversions[c.ID] = &c
	s.hashes[c.ContentHash] = c.ID
	return nil
}

func (s *Store) GetConversion(_ context.Context, id string) (*db.SavedConversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *Store) DeleteConversion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversions[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.hashes, c.ContentHash)
	delete(s.conversions, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cloneMessage(rec *db.MessageRecord) *db.MessageRecord {
	out := *rec
	if rec.XMLContent != nil {
		xml := *rec.XMLContent
		out.XMLContent = &xml
	}
	out.JSONContent = append(json.RawMessage(nil), rec.JSONContent...)
	out.PDFContent = bytes.Clone(rec.PDFContent)
	return &out
}
