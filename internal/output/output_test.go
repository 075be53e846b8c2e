package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemadump/internal/render"
)

func TestWrite(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	files, err := Write(context.Background(), root, []render.Artifact{
		{Path: "schema.json", Content: []byte("{}\n")},
		{Path: "client_dll/client_dll.hpp", Content: []byte("#pragma once\n")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"schema.json", "client_dll/client_dll.hpp"}, files)

	got, err := os.ReadFile(filepath.Join(root, "client_dll", "client_dll.hpp"))
	require.NoError(t, err)
	assert.Equal(t, "#pragma once\n", string(got))

	// Rewriting replaces content.
	_, err = Write(context.Background(), root, []render.Artifact{{Path: "schema.json", Content: []byte("[]\n")}})
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(root, "schema.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(got))

	// Nothing but artifacts is left in the root.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"client_dll", "schema.json"}, names)
}

func TestLockPath(t *testing.T) {
	dir := t.TempDir()
	p, err := LockPath(filepath.Join(dir, "out") + "/")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.lock"), p)
}

func TestWrite_Locked(t *testing.T) {
	root := t.TempDir()
	lockPath, err := LockPath(root)
	require.NoError(t, err)
	held := flock.New(lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = Write(context.Background(), root, []render.Artifact{{Path: "a.txt", Content: []byte("a")}})
	assert.ErrorIs(t, err, ErrLocked)
	_, statErr := os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
