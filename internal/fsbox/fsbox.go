// Package fsbox serves directory listings and windowed file reads confined to
// a fixed root directory. Every caller-supplied path is resolved and symlink-
// canonicalized before any filesystem access; resolutions that escape the root
// are denied.
package fsbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcpgate/mcpgate/internal/telemetry"
)

// Error is a classified filesystem failure.
type Error struct {
	Code   string
	Detail string
}

func (e *Error) Error() string     { return e.Detail }
func (e *Error) ErrorCode() string { return e.Code }

const (
	ErrCodeSandboxDenied = "sandbox_denied"
	ErrCodeNotFound      = "not_found"
	ErrCodeNotAFile      = "not_a_file"
	ErrCodeNotADirectory = "not_a_directory"
)

// errDenied carries no path detail beyond "denied". The caller already knows
// what it asked for; echoing resolved paths would leak root layout.
func errDenied() *Error {
	telemetry.IncSandboxDenial()
	return &Error{Code: ErrCodeSandboxDenied, Detail: "path denied: outside sandbox root"}
}

// Sandbox is the fixed root directory for all filesystem tools. Constructed
// once at startup and read-only afterwards.
type Sandbox struct {
	root string // absolute, symlink-resolved
}

// NewSandbox canonicalizes root, creating the directory if it does not exist.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize sandbox root: %w", err)
	}
	return &Sandbox{root: real}, nil
}

// Root returns the canonical sandbox root.
func (s *Sandbox) Root() string { return s.root }

// Resolve maps a caller-supplied path to an absolute path under the root.
// Leading separators are stripped, so an "absolute" input is treated as
// root-relative rather than honored. Symlinks are resolved before the
// containment check so a link cannot point traffic outside the root.
func (s *Sandbox) Resolve(rel string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(rel), "/\\")
	if trimmed == "" {
		trimmed = "."
	}
	normalized := filepath.ToSlash(filepath.Clean(trimmed))
	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		return "", errDenied()
	}

	abs := filepath.Join(s.root, filepath.FromSlash(normalized))
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Code: ErrCodeNotFound, Detail: fmt.Sprintf("path not found: %s", normalized)}
		}
		return "", fmt.Errorf("canonicalize %s: %w", normalized, err)
	}

	relToRoot, err := filepath.Rel(s.root, real)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", errDenied()
	}
	return real, nil
}

// Entry is one listed filesystem object, path relative to the sandbox root.
type Entry struct {
	Path string `json:"path"`
	Dir  bool   `json:"dir"`
	Size int64  `json:"size"`
}

// List enumerates entries under path. Non-recursive returns immediate
// children; recursive walks the whole subtree. Enumeration stops once limit
// entries are collected, reported via the truncated flag.
func (s *Sandbox) List(path string, recursive bool, limit int) ([]Entry, bool, error) {
	target, err := s.Resolve(path)
	if err != nil {
		return nil, false, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, false, &Error{Code: ErrCodeNotFound, Detail: fmt.Sprintf("path not found: %s", path)}
	}
	if !info.IsDir() {
		return nil, false, &Error{Code: ErrCodeNotADirectory, Detail: fmt.Sprintf("not a directory: %s", path)}
	}

	entries := make([]Entry, 0, 16)
	truncated := false

	appendEntry := func(abs string, d fs.DirEntry) error {
		if len(entries) >= limit {
			truncated = true
			return fs.SkipAll
		}
		rel, relErr := filepath.Rel(s.root, abs)
		if relErr != nil {
			return relErr
		}
		var size int64
		if !d.IsDir() {
			if fi, infoErr := d.Info(); infoErr == nil {
				size = fi.Size()
			}
		}
		entries = append(entries, Entry{Path: filepath.ToSlash(rel), Dir: d.IsDir(), Size: size})
		return nil
	}

	if recursive {
		err = filepath.WalkDir(target, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == target {
				return nil
			}
			return appendEntry(p, d)
		})
		if err != nil && !errors.Is(err, fs.SkipAll) {
			return nil, false, fmt.Errorf("walk %s: %w", path, err)
		}
	} else {
		children, readErr := os.ReadDir(target)
		if readErr != nil {
			return nil, false, fmt.Errorf("read dir %s: %w", path, readErr)
		}
		for _, d := range children {
			if err := appendEntry(filepath.Join(target, d.Name()), d); err != nil {
				if errors.Is(err, fs.SkipAll) {
					break
				}
				return nil, false, err
			}
		}
	}

	return entries, truncated, nil
}

// FileWindow is the result of a windowed read.
type FileWindow struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Offset  int    `json:"offset"`
	Length  int    `json:"length"`
	Content string `json:"content"`
	EOF     bool   `json:"eof"`
}

// Read serves the byte window [offset, offset+limit) of a file, clamped to
// file size, decoded as UTF-8 with lossy substitution for invalid bytes.
func (s *Sandbox) Read(path string, offset, limit int) (FileWindow, error) {
	target, err := s.Resolve(path)
	if err != nil {
		return FileWindow{}, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return FileWindow{}, &Error{Code: ErrCodeNotFound, Detail: fmt.Sprintf("path not found: %s", path)}
	}
	if info.IsDir() {
		return FileWindow{}, &Error{Code: ErrCodeNotAFile, Detail: fmt.Sprintf("not a file: %s", path)}
	}

	raw, err := os.ReadFile(target)
	if err != nil {
		return FileWindow{}, fmt.Errorf("read %s: %w", path, err)
	}

	size := len(raw)
	start := offset
	if start > size {
		start = size
	}
	end := start + limit
	if end > size {
		end = size
	}
	window := raw[start:end]

	rel, relErr := filepath.Rel(s.root, target)
	if relErr != nil {
		rel = path
	}

	return FileWindow{
		Path:    filepath.ToSlash(rel),
		Size:    int64(size),
		Offset:  start,
		Length:  len(window),
		Content: strings.ToValidUTF8(string(window), "�"),
		EOF:     start+len(window) == size,
	}, nil
}
