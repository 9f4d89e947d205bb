package boltstorage

import (
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNestedDirectory(t *testing.T) {
	path := PathForTab(filepath.Join(t.TempDir(), "a", "b"), "t1")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, "tab-t1.db", filepath.Base(path))
}

func TestGet_MissingKey(t *testing.T) {
	s := testDB(t)
	v, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSetGetDelete(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.Set("k", []byte("v1")))
	require.NoError(t, s.Set("k", []byte("v2")))

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))
	v, err = s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tab.db")
	c := credential.Credential{Username: "u@example.com", AuthorizationHeader: "Bearer abc", TokenExpiresAt: 99}

	s1, err := Open(path)
	require.NoError(t, err)
	st1, err := store.New(s1)
	require.NoError(t, err)
	require.NoError(t, st1.Persist(c))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	st2, err := store.New(s2)
	require.NoError(t, err)

	got, ok := st2.RetrieveFromStore().Get()
	require.True(t, ok)
	assert.Equal(t, c, got)
}
