package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadEmptyReturnsNil(t *testing.T) {
	s := newTestStore(t)

	blob, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSaveThenLoad(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(context.Background(), []byte("credential")))

	blob, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("credential"), blob)
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(context.Background(), []byte("old")))
	require.NoError(t, s.Save(context.Background(), []byte("new")))

	blob, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), blob)
}

func TestLoadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), []byte("credential")))
	require.NoError(t, s.Close())

	reopened, err := New(context.Background(), dir)
	require.NoError(t, err)
	defer reopened.Close()

	blob, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("credential"), blob)
}
