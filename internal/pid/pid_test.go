package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	f := New(t.TempDir())

	require.NoError(t, f.Write())
	content, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	require.NoError(t, f.Remove())
	_, err = os.Stat(f.Path())
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine.
	assert.NoError(t, f.Remove())
}

func TestWriteWhileRunning(t *testing.T) {
	f := New(t.TempDir())
	require.NoError(t, f.Write())

	// The file names this very process, which is alive.
	err := f.Write()
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestStaleFileOverwritten(t *testing.T) {
	f := New(t.TempDir())

	for _, stale := range []string{"not a pid", "0", "-5"} {
		require.NoError(t, os.WriteFile(f.Path(), []byte(stale), 0o600))
		require.NoError(t, f.Write(), stale)
	}
}

func TestDefaultDir(t *testing.T) {
	assert.Equal(t, filepath.Clean(os.TempDir()), filepath.Dir(New("").Path()))
}
