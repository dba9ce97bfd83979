package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStorage(t *testing.T) *SessionStorage {
	t.Helper()
	s, err := NewSessionStorage(filepath.Join(t.TempDir(), "sessions", "sessions.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionStorage_SetGetDelete(t *testing.T) {
	s := newTestSessionStorage(t)

	require.NoError(t, s.Set("sid", []byte("payload"), time.Hour))

	v, err := s.Get("sid")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	require.NoError(t, s.Delete("sid"))
	v, err = s.Get("sid")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSessionStorage_Expiry(t *testing.T) {
	s := newTestSessionStorage(t)

	require.NoError(t, s.Set("short", []byte("a"), time.Millisecond))
	require.NoError(t, s.Set("forever", []byte("b"), 0))
	time.Sleep(5 * time.Millisecond)

	v, err := s.Get("short")
	require.NoError(t, err)
	assert.Nil(t, v)

	n, err := s.gc(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err = s.Get("forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)
}

func TestSessionStorage_Reset(t *testing.T) {
	s := newTestSessionStorage(t)

	require.NoError(t, s.Set("a", []byte("1"), 0))
	require.NoError(t, s.Reset())

	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Nil(t, v)
}
