package store

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/pkg/kvstore"
)

func record(id int64, status domain.SignalStatus) domain.SignalRecord {
	return domain.SignalRecord{
		ID:         id,
		Symbol:     "BOOM1000",
		Direction:  domain.DirectionSell,
		EntryPrice: 103,
		StopLoss:   118,
		TakeProfit: 73,
		Spike:      3,
		CreatedAt:  time.Date(2026, 10, 19, 9, 0, int(id), 0, time.UTC),
		Status:     status,
	}
}

// exerciseStore is shared by every backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	const day = "2026-10-19"

	n, err := s.LoadCounter(day)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	seq, err := s.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
	hist, err := s.LoadHistory(day)
	require.NoError(t, err)
	assert.Empty(t, hist)

	require.NoError(t, s.SaveCounter(day, 2))
	require.NoError(t, s.SaveSequence(42))
	require.NoError(t, s.AppendOrUpdate(day, record(12, domain.StatusPending)))
	require.NoError(t, s.AppendOrUpdate(day, record(3, domain.StatusPending)))
	require.NoError(t, s.AppendOrUpdate("2026-10-18", record(1, domain.StatusSuccess)))

	failed := record(3, domain.StatusFailed)
	failed.SupersededBy = 12
	failed.ResolvedAt = time.Date(2026, 10, 19, 9, 1, 0, 0, time.UTC)
	require.NoError(t, s.AppendOrUpdate(day, failed))

	n, err = s.LoadCounter(day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.LoadCounter("2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	seq, err = s.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	hist, err = s.LoadHistory(day)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(3), hist[0].ID)
	assert.Equal(t, domain.StatusFailed, hist[0].Status)
	assert.Equal(t, int64(12), hist[0].SupersededBy)
	assert.True(t, failed.ResolvedAt.Equal(hist[0].ResolvedAt))
	assert.Equal(t, int64(12), hist[1].ID)
	assert.Equal(t, domain.StatusPending, hist[1].Status)
	assert.Equal(t, 103.0, hist[1].EntryPrice)

	prev, err := s.LoadHistory("2026-10-18")
	require.NoError(t, err)
	assert.Len(t, prev, 1)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerMemoryStore()
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Driver: DriverBadger, Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.SaveSequence(7))
	require.NoError(t, s.Close())

	s, err = Open(Options{Driver: DriverBadger, Path: dir})
	require.NoError(t, err)
	defer s.Close()
	seq, err := s.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
}

func TestBadgerStore_EncryptedWithParsedKey(t *testing.T) {
	hexKey := hex.EncodeToString(bytes.Repeat([]byte{0x5a}, 32))
	_, err := NewBadgerStore(t.TempDir(), []byte(hexKey))
	require.Error(t, err, "the hex text itself is not a valid key")

	key, err := kvstore.ParseKey(hexKey)
	require.NoError(t, err)
	dir := t.TempDir()
	s, err := Open(Options{Driver: DriverBadger, Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, s.SaveSequence(3))
	require.NoError(t, s.Close())

	s, err = Open(Options{Driver: DriverBadger, Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer s.Close()
	seq, err := s.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestJSONStore(t *testing.T) {
	s, err := Open(Options{Driver: DriverJSON, Path: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedisStore(addr, "", 15, "spikebot-test:"+time.Now().Format("150405.000")+":")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "cassandra"})
	assert.Error(t, err)
	assert.False(t, KnownDriver("cassandra"))
	assert.True(t, KnownDriver("SQLite"))
}

func TestOpenOrMemory_FallsBackWhenBackendFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	opts := Options{Driver: DriverBadger, Path: filepath.Join(blocker, "db")}

	_, err := Open(opts)
	require.Error(t, err)

	s, err := OpenOrMemory(opts)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &BadgerStore{}, s)
	exerciseStore(t, s)
}

func TestOpenOrMemory_UsesConfiguredBackend(t *testing.T) {
	s, err := OpenOrMemory(Options{Driver: DriverJSON, Path: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &JSONStore{}, s)
}

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr("op", nil))
	err := wrapErr("save counter", errors.New("disk full"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "save counter")
	assert.Contains(t, err.Error(), "disk full")
}
