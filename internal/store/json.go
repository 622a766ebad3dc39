package store

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/pkg/persistence"
)

const jsonPrefix = "spikebot"

// JSONStore writes one file per document under a directory.
type JSONStore struct {
	svc *persistence.JSONFileService
	mu  sync.Mutex
}

func NewJSONStore(dir string) *JSONStore {
	if dir == "" {
		dir = "data"
	}
	return &JSONStore{svc: persistence.NewJSONFileService(dir)}
}

func (s *JSONStore) loadInto(id, tag string, v interface{}) error {
	err := s.svc.NewStore(jsonPrefix, id, tag).Load(v)
	if errors.Is(err, persistence.ErrNotExists) {
		return nil
	}
	return err
}

func (s *JSONStore) LoadCounter(day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	return n, wrapErr("load counter", s.loadInto(day, "counter", &n))
}

func (s *JSONStore) SaveCounter(day string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrapErr("save counter", s.svc.NewStore(jsonPrefix, day, "counter").Save(n))
}

func (s *JSONStore) LoadSequence() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	return n, wrapErr("load sequence", s.loadInto("global", "sequence", &n))
}

func (s *JSONStore) SaveSequence(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrapErr("save sequence", s.svc.NewStore(jsonPrefix, "global", "sequence").Save(n))
}

func (s *JSONStore) LoadHistory(day string) ([]domain.SignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []domain.SignalRecord
	if err := s.loadInto(day, "history", &recs); err != nil {
		return nil, wrapErr("load history", err)
	}
	sortRecords(recs)
	return recs, nil
}

// AppendOrUpdate rewrites the whole day file.
func (s *JSONStore) AppendOrUpdate(day string, rec domain.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []domain.SignalRecord
	if err := s.loadInto(day, "history", &recs); err != nil {
		return wrapErr("load history", err)
	}
	recs = upsert(recs, rec)
	sortRecords(recs)
	return wrapErr("save record", s.svc.NewStore(jsonPrefix, day, "history").Save(recs))
}

func (s *JSONStore) Close() error { return nil }
