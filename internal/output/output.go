// Package output writes rendered artifacts under a destination root.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"schemadump/internal/ctxlog"
	"schemadump/internal/render"
)

var ErrLocked = errors.New("output: destination is locked by another run")

// LockPath is the lock file taken while writing under root. It sits beside
// root so the root holds nothing but artifacts.
func LockPath(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("output: resolve %s: %w", root, err)
	}
	return abs + ".lock", nil
}

// Write writes artifacts under root while holding the root lock and returns
// their paths in artifact order. Artifact paths must already be clean and
// relative.
func Write(ctx context.Context, root string, artifacts []render.Artifact) ([]string, error) {
	log := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("output: mkdir %s: %w", root, err)
	}
	lockPath, err := LockPath(root)
	if err != nil {
		return nil, err
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("output: lock %s: %w", root, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, root)
	}
	defer lock.Unlock()

	files := make([]string, len(artifacts))
	g, _ := errgroup.WithContext(ctx)
	for i, a := range artifacts {
		g.Go(func() error {
			dst := filepath.Join(root, filepath.FromSlash(a.Path))
			if err := writeFile(dst, a.Content); err != nil {
				return err
			}
			log.Debug("wrote artifact", "path", a.Path, "bytes", len(a.Content))
			files[i] = a.Path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("output: sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("output: close %s: %w", path, err)
	}
	return nil
}
