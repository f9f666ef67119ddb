package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Adapter defines the interface for storage backends holding audio
// artifacts: voice reference clips, per-line synthesis output, previews
type Adapter interface {
	// Put stores data at the given path
	Put(ctx context.Context, path string, data io.Reader) error

	// Get retrieves data from the given path
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes data at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths matching the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Close cleans up any resources
	Close() error
}

// PutFile uploads a local file to the adapter under the given key
func PutFile(ctx context.Context, a Adapter, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()
	return a.Put(ctx, key, f)
}

// GetToFile downloads a key from the adapter into a local file
func GetToFile(ctx context.Context, a Adapter, key, localPath string) error {
	r, err := a.Get(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}
