// Package store persists the daily signal counter, the global id sequence and
// the per-day trade-signal history.
package store

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
)

var storeLog = logrus.WithField("component", "store")

// ErrPersistence wraps every backend failure. Callers log it and carry on.
var ErrPersistence = errors.New("persistence failure")

// Store is read at startup and written on every lifecycle transition.
// Days are "2006-01-02" strings in the configured time zone.
type Store interface {
	LoadCounter(day string) (int, error)
	SaveCounter(day string, n int) error
	LoadSequence() (int64, error)
	SaveSequence(n int64) error
	// LoadHistory returns the day's records ordered by id.
	LoadHistory(day string) ([]domain.SignalRecord, error)
	// AppendOrUpdate upserts rec by id.
	AppendOrUpdate(day string, rec domain.SignalRecord) error
	Close() error
}

const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverJSON   = "json"
	DriverMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	Path          string // badger dir, sqlite file, json dir
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	EncryptionKey []byte // badger only
}

// Open builds the backend named by opts.Driver.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverBadger:
		return NewBadgerStore(opts.Path, opts.EncryptionKey)
	case DriverSQLite:
		return NewSQLiteStore(opts.Path)
	case DriverRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	case DriverJSON:
		return NewJSONStore(opts.Path), nil
	case DriverMemory:
		return NewBadgerMemoryStore()
	default:
		return nil, errors.Errorf("unknown store driver %q", opts.Driver)
	}
}

// OpenOrMemory opens the backend named by opts.Driver. If that fails the error
// is logged and an in-memory Badger store is returned instead, so the bot keeps
// running without persistence.
func OpenOrMemory(opts Options) (Store, error) {
	st, err := Open(opts)
	if err == nil {
		return st, nil
	}
	storeLog.WithError(err).Errorf("open %q store failed; signals will not survive a restart", opts.Driver)
	mem, memErr := NewBadgerMemoryStore()
	if memErr != nil {
		return nil, errors.Wrap(memErr, "open in-memory fallback store")
	}
	return mem, nil
}

// KnownDriver reports whether Open accepts name.
func KnownDriver(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DriverBadger, DriverSQLite, DriverRedis, DriverJSON, DriverMemory:
		return true
	}
	return false
}

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string { return "store " + e.op + ": " + e.err.Error() }
func (e *persistenceError) Unwrap() error  { return e.err }
func (e *persistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// wrapErr tags err so errors.Is(err, ErrPersistence) holds. nil stays nil.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &persistenceError{op: op, err: err}
}

func sortRecords(recs []domain.SignalRecord) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}

// upsert replaces the record with rec.ID or appends it.
func upsert(recs []domain.SignalRecord, rec domain.SignalRecord) []domain.SignalRecord {
	for i := range recs {
		if recs[i].ID == rec.ID {
			recs[i] = rec
			return recs
		}
	}
	return append(recs, rec)
}
