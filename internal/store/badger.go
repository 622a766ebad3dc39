package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/pkg/kvstore"
)

const sequenceKey = "sequence"

func counterKey(day string) string { return "counter:" + day }
func historyPrefix(day string) string { return "history:" + day + ":" }
func historyKey(day string, id int64) string { return fmt.Sprintf("history:%s:%020d", day, id) }

// BadgerStore keeps one key per record so an update rewrites only that record.
type BadgerStore struct {
	kv *kvstore.Store
}

func NewBadgerStore(path string, encryptionKey []byte) (*BadgerStore, error) {
	if path == "" {
		path = "data/spikebot.badger"
	}
	kv, err := kvstore.Open(kvstore.OpenOptions{Path: path, EncryptionKey: encryptionKey})
	if err != nil {
		return nil, wrapErr("open", err)
	}
	storeLog.Infof("badger store opened at %s", path)
	return &BadgerStore{kv: kv}, nil
}

// NewBadgerMemoryStore is a non-durable store for dry runs and tests.
func NewBadgerMemoryStore() (*BadgerStore, error) {
	kv, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	if err != nil {
		return nil, wrapErr("open", err)
	}
	return &BadgerStore{kv: kv}, nil
}

func (s *BadgerStore) loadInt(key string) (int64, error) {
	v, found, err := s.kv.GetString(key)
	if err != nil || !found {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *BadgerStore) LoadCounter(day string) (int, error) {
	n, err := s.loadInt(counterKey(day))
	return int(n), wrapErr("load counter", err)
}

func (s *BadgerStore) SaveCounter(day string, n int) error {
	return wrapErr("save counter", s.kv.SetString(counterKey(day), strconv.Itoa(n)))
}

func (s *BadgerStore) LoadSequence() (int64, error) {
	n, err := s.loadInt(sequenceKey)
	return n, wrapErr("load sequence", err)
}

func (s *BadgerStore) SaveSequence(n int64) error {
	return wrapErr("save sequence", s.kv.SetString(sequenceKey, strconv.FormatInt(n, 10)))
}

func (s *BadgerStore) LoadHistory(day string) ([]domain.SignalRecord, error) {
	var out []domain.SignalRecord
	err := s.kv.Scan(historyPrefix(day), func(_ string, val []byte) error {
		var rec domain.SignalRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, wrapErr("load history", err)
	}
	sortRecords(out)
	return out, nil
}

func (s *BadgerStore) AppendOrUpdate(day string, rec domain.SignalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return wrapErr("encode record", err)
	}
	return wrapErr("save record", s.kv.Set(historyKey(day, rec.ID), b))
}

func (s *BadgerStore) Close() error {
	return wrapErr("close", s.kv.Close())
}
