package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when an image does not exist.
var ErrNotFound = errors.New("object not found")

// FileImages keeps reference images in one directory per member under root.
type FileImages struct {
	root string
}

func NewFileImages(root string) (*FileImages, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir %s: %w", root, err)
	}
	return &FileImages{root: root}, nil
}

func (f *FileImages) path(memberID, name string) (string, error) {
	if memberID == "" || strings.ContainsAny(memberID, `/\`) || memberID == "." || memberID == ".." {
		return "", fmt.Errorf("invalid member id %q", memberID)
	}
	if name != "" && (strings.ContainsAny(name, `/\`) || name == "." || name == "..") {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(f.root, memberID, name), nil
}

// Put writes the image atomically, replacing any image with the same name.
func (f *FileImages) Put(_ context.Context, memberID, name string, data []byte) error {
	p, err := f.path(memberID, name)
	if err != nil {
		return err
	}
	return WriteFileAtomic(p, data, 0o600)
}

func (f *FileImages) Get(_ context.Context, memberID, name string) ([]byte, error) {
	p, err := f.path(memberID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("image %s/%s: %w", memberID, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read image %s/%s: %w", memberID, name, err)
	}
	return data, nil
}

func (f *FileImages) Delete(_ context.Context, memberID, name string) error {
	p, err := f.path(memberID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete image %s/%s: %w", memberID, name, err)
	}
	return nil
}

func (f *FileImages) DeleteMember(_ context.Context, memberID string) error {
	p, err := f.path(memberID, "")
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete images of %s: %w", memberID, err)
	}
	return nil
}

// List returns the member's image names, sorted. Temp files from interrupted
// writes are skipped.
func (f *FileImages) List(_ context.Context, memberID string) ([]string, error) {
	p, err := f.path(memberID, "")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list images of %s: %w", memberID, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks that the images directory is reachable.
func (f *FileImages) Ping(context.Context) error {
	_, err := os.Stat(f.root)
	return err
}
