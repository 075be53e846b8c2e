package dump

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemadump/internal/memport"
	"schemadump/internal/output"
	"schemadump/internal/profile"
	"schemadump/internal/render"
	"schemadump/internal/schema"
	"schemadump/internal/walker"
	"schemadump/internal/walker/walkertest"
)

// fixture is module A with class Foo { bar @ 0x8 } and module B, which
// the target does not have.
func fixture(t *testing.T) (*walkertest.Target, Request) {
	t.Helper()
	tgt := walkertest.New()
	a := tgt.Module("A")
	a.Class("Foo", 0x10, walkertest.Field{Name: "bar", Offset: 0x8})
	a.Finish()

	opts := walker.DefaultOptions()
	opts.Backoff = 0
	return tgt, Request{
		Formats:     []string{"json", "hpp"},
		IndentWidth: 4,
		RootDir:     t.TempDir(),
		Modules:     walkertest.Profile("A", "B"),
		Layout:      tgt.Layout,
		Walk:        opts,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	tgt, req := fixture(t)

	res, err := Run(context.Background(), req, tgt.Image)
	require.NoError(t, err)
	assert.Equal(t, []string{"schema.json", "A/A.hpp"}, res.Files)

	hpp, err := os.ReadFile(filepath.Join(req.RootDir, "A", "A.hpp"))
	require.NoError(t, err)
	assert.Contains(t, string(hpp), "constexpr std::ptrdiff_t bar = 0x8;")

	js, err := os.ReadFile(filepath.Join(req.RootDir, "schema.json"))
	require.NoError(t, err)
	assert.Contains(t, string(js), `"bar"`)
	assert.NotContains(t, string(js), `"B"`)

	sum := res.Summary()
	assert.Equal(t, ModuleSummary{Name: "A", Classes: 1, Resolved: 1}, sum["A"])
	assert.Equal(t, ModuleSummary{Name: "B", Gaps: 1, Missing: true}, sum["B"])
	assert.Len(t, res.Gaps, 1)

	// The root holds only the artifacts.
	entries, err := os.ReadDir(req.RootDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"A", "schema.json"}, names)

	// The lock is released after the run.
	lockPath, err := output.LockPath(req.RootDir)
	require.NoError(t, err)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Unlock())
}

func TestRun_RepeatableOutput(t *testing.T) {
	tgt, req := fixture(t)
	_, err := Run(context.Background(), req, tgt.Image)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(req.RootDir, "schema.json"))
	require.NoError(t, err)

	_, err = Run(context.Background(), req, tgt.Image)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(req.RootDir, "schema.json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRun_HeaderFormatAlias(t *testing.T) {
	tgt, req := fixture(t)
	req.Formats = []string{"json", "header"}

	res, err := Run(context.Background(), req, tgt.Image)
	require.NoError(t, err)
	assert.Equal(t, []string{"schema.json", "A/A.hpp"}, res.Files)

	hpp, err := os.ReadFile(filepath.Join(req.RootDir, "A", "A.hpp"))
	require.NoError(t, err)
	assert.Contains(t, string(hpp), "namespace Foo {")
	assert.Contains(t, string(hpp), "constexpr std::ptrdiff_t bar = 0x8;")
	js, err := os.ReadFile(filepath.Join(req.RootDir, "schema.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(js), `"B"`)

	_, err = Run(context.Background(), req, tgt.Image)
	require.NoError(t, err)
	again, err := os.ReadFile(filepath.Join(req.RootDir, "A", "A.hpp"))
	require.NoError(t, err)
	assert.Equal(t, hpp, again)
}

func TestRun_ConfigErrorsBeforeMemoryAccess(t *testing.T) {
	cases := map[string]func(*Request){
		"zero indent":     func(r *Request) { r.IndentWidth = 0 },
		"negative indent": func(r *Request) { r.IndentWidth = -2 },
		"unknown format":  func(r *Request) { r.Formats = []string{"json", "header"} },
		"no formats":      func(r *Request) { r.Formats = nil },
		"no root":         func(r *Request) { r.RootDir = "" },
		"no modules":      func(r *Request) { r.Modules = nil },
		"bad layout":      func(r *Request) { r.Layout.Field.Stride = 4 },
		"bad root":        func(r *Request) { r.Modules = []profile.Module{{Name: "A", Roots: []profile.Root{{Kind: "tables"}}}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tgt, req := fixture(t)
			mutate(&req)

			res, err := Run(context.Background(), req, tgt.Image)
			require.Error(t, err)
			assert.Nil(t, res)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Zero(t, tgt.Image.Reads())

			if req.RootDir != "" {
				entries, err := os.ReadDir(req.RootDir)
				require.NoError(t, err)
				assert.Empty(t, entries)
			}
		})
	}
}

func TestRun_UnknownFormatIsUnknownFormatError(t *testing.T) {
	tgt, req := fixture(t)
	req.Formats = []string{"toml"}
	_, err := Run(context.Background(), req, tgt.Image)
	assert.ErrorIs(t, err, render.ErrUnknownFormat)
}

func TestRun_PortUnavailable(t *testing.T) {
	tgt, req := fixture(t)
	require.NoError(t, tgt.Image.Close())

	res, err := Run(context.Background(), req, tgt.Image)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrPortUnavailable)
	assert.True(t, memport.IsFatal(err))

	entries, err := os.ReadDir(req.RootDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_LockedDestination(t *testing.T) {
	tgt, req := fixture(t)
	lockPath, err := output.LockPath(req.RootDir)
	require.NoError(t, err)
	held := flock.New(lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = Run(context.Background(), req, tgt.Image)
	assert.ErrorIs(t, err, ErrLocked)
}

// clash emits a fixed artifact path to provoke a collision.
type clash struct{ id, path string }

func (c clash) Format() string { return c.id }

func (c clash) Render(*schema.Model, render.Config) ([]render.Artifact, error) {
	return []render.Artifact{{Path: c.path, Content: []byte(c.id)}}, nil
}

func TestRunWith_DuplicatePathsRejected(t *testing.T) {
	tgt, req := fixture(t)
	reg := render.NewRegistry(clash{"one", "x/out.txt"}, clash{"two", "x/./out.txt"})
	req.Formats = []string{"one", "two"}

	_, err := RunWith(context.Background(), reg, req, tgt.Image)
	assert.ErrorIs(t, err, ErrDuplicatePath)

	entries, err := os.ReadDir(req.RootDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunWith_EscapingPathRejected(t *testing.T) {
	tgt, req := fixture(t)
	reg := render.NewRegistry(clash{"evil", "../outside.txt"})
	req.Formats = []string{"evil"}

	_, err := RunWith(context.Background(), reg, req, tgt.Image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}
