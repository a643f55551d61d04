package git_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gitbackend "github.com/opdag/vcscore/backend/git"
)

func newTestBackend(t *testing.T) *gitbackend.Backend {
	t.Helper()
	b, err := gitbackend.New(t.TempDir(), logtest.Scoped(t))
	require.NoError(t, err)
	return b
}

func TestWriteFileLaysOutLooseObject(t *testing.T) {
	dir := t.TempDir()
	b, err := gitbackend.New(dir, logtest.Scoped(t))
	require.NoError(t, err)
	id, err := b.WriteFile("a.txt", bytes.NewBufferString("hello"))
	require.NoError(t, err)
	hex := id.Hex()
	path := filepath.Join(dir, "objects", hex[:2], hex[2:])
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	id, err := b.WriteFile("a.txt", bytes.NewBufferString("hello"))
	require.NoError(t, err)
	r, err := b.ReadFile("a.txt", id)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadMissingObjectIsNotFound(t *testing.T) {
	b := newTestBackend(t)
	bogus, err := b.WriteFile("x", bytes.NewBufferString("x"))
	require.NoError(t, err)
	bogus[0] ^= 0xff
	_, err = b.ReadFile("x", bogus)
	require.Error(t, err)
}

func TestRootCommitUsesZeroHash(t *testing.T) {
	b := newTestBackend(t)
	c, err := b.ReadCommit(b.RootCommitID())
	require.NoError(t, err)
	assert.True(t, c.RootTree.Equal(b.EmptyTreeID()))
	assert.Equal(t, "0000000000000000000000000000000000000000", b.RootCommitID().Hex())
}

func TestCommitIDLengthMatchesSHA1(t *testing.T) {
	b := newTestBackend(t)
	assert.Equal(t, 20, b.CommitIDLength())
}
