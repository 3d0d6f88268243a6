package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	MaxReadBytes        = 20 * 1024 * 1024
	MaxWriteBytes       = 20 * 1024 * 1024
	MaxOperationTimeout = 30 * time.Second
)

// Staging performs bounded file operations for downloaded media, converted
// documents, reports and exports, all inside one workspace root.
type Staging struct {
	guard            *Guard
	maxReadBytes     int
	maxWriteBytes    int
	operationTimeout time.Duration
}

// WriteResult describes a completed staging write.
type WriteResult struct {
	Path         string
	RelPath      string
	BytesWritten int
}

// NewStaging creates a workspace-bounded staging area.
func NewStaging(guard *Guard) *Staging {
	return &Staging{
		guard:            guard,
		maxReadBytes:     MaxReadBytes,
		maxWriteBytes:    MaxWriteBytes,
		operationTimeout: MaxOperationTimeout,
	}
}

// Guard returns the containment guard behind the staging area.
func (s *Staging) Guard() *Guard {
	return s.guard
}

// WriteFile atomically replaces path with data, creating parent directories.
func (s *Staging) WriteFile(ctx context.Context, path string, data []byte) (WriteResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	if len(data) > s.maxWriteBytes {
		return WriteResult{}, fmt.Errorf("write %s: %w: %d bytes over the %d byte limit", path, ErrTooLarge, len(data), s.maxWriteBytes)
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	resolvedPath, err := s.guard.ResolvePath(path)
	if err != nil {
		return WriteResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(resolvedPath), 0o755); err != nil {
		return WriteResult{}, osError("create directory", s.guard.RelPath(filepath.Dir(resolvedPath)), err)
	}

	if err := s.guard.EnsureContained(resolvedPath); err != nil {
		return WriteResult{}, err
	}

	if err := atomicWrite(resolvedPath, data, 0o644); err != nil {
		return WriteResult{}, osError("write", s.guard.RelPath(resolvedPath), err)
	}

	return WriteResult{
		Path:         resolvedPath,
		RelPath:      s.guard.RelPath(resolvedPath),
		BytesWritten: len(data),
	}, nil
}

// ReadFile returns the bytes of a staged file.
func (s *Staging) ReadFile(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	resolvedPath, err := s.guard.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(resolvedPath)
	if err != nil {
		return nil, osError("read", s.guard.RelPath(resolvedPath), err)
	}
	if info.IsDir() {
		return nil, newPathError("read", s.guard.RelPath(resolvedPath), ErrInvalidPath)
	}
	if info.Size() > int64(s.maxReadBytes) {
		return nil, fmt.Errorf("read %s: %w: %d bytes over the %d byte limit", s.guard.RelPath(resolvedPath), ErrTooLarge, info.Size(), s.maxReadBytes)
	}

	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, osError("read", s.guard.RelPath(resolvedPath), err)
	}

	return content, nil
}

// Exists reports whether a staged regular file is present.
func (s *Staging) Exists(path string) bool {
	resolvedPath, err := s.guard.ResolvePath(path)
	if err != nil {
		return false
	}

	info, err := os.Stat(resolvedPath)
	return err == nil && !info.IsDir()
}

// Glob lists regular files in dir matching pattern, sorted by name.
// A missing directory yields an empty list.
func (s *Staging) Glob(dir string, pattern string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}

	resolvedDir, err := s.guard.ResolvePath(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolvedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, osError("list", dir, err)
	}

	matches := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, matchErr := filepath.Match(pattern, entry.Name())
		if matchErr != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, ErrInvalidPath)
		}
		if ok {
			matches = append(matches, filepath.Join(resolvedDir, entry.Name()))
		}
	}

	sort.Strings(matches)
	return matches, nil
}

func (s *Staging) withOperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.operationTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.operationTimeout)
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".freightdesk-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	cleanup = false
	return nil
}
