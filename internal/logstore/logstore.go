// Package logstore keeps session log files in a directory.
package logstore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"captestlog/internal/framer"
	"captestlog/pkg/outputtype"
)

// Store creates session files below Dir.
type Store struct {
	Dir string
	// Overwrite truncates an existing file of the same name instead of
	// picking a free numbered name.
	Overwrite bool
}

var _ framer.Store = &Store{}

// New returns a Store for dir, creating the directory if needed.
func New(dir string, overwrite bool) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Store{Dir: dir, Overwrite: overwrite}, nil
}

// Create opens a new session file. Without Overwrite, "name.txt" becomes
// "name_1.txt", "name_2.txt", ... until an unused name is found.
func (s *Store) Create(name string) (framer.Sink, error) {
	if s.Overwrite {
		f, err := os.OpenFile(filepath.Join(s.Dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		return newFile(f, name), nil
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		f, err := os.OpenFile(filepath.Join(s.Dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return newFile(f, candidate), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to create %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
}

// File is a buffered session file. Sync flushes the buffer and fsyncs.
type File struct {
	f    *os.File
	w    *bufio.Writer
	name string
}

var _ framer.Sink = &File{}

func newFile(f *os.File, name string) *File {
	return &File{f: f, w: bufio.NewWriter(f), name: name}
}

func (f *File) WriteByte(c byte) error {
	return f.w.WriteByte(c)
}

func (f *File) Sync() error {
	if err := f.w.Flush(); err != nil {
		return err
	}
	return f.f.Sync()
}

func (f *File) Close() error {
	if err := f.Sync(); err != nil {
		_ = f.f.Close()
		return err
	}
	return f.f.Close()
}

func (f *File) Name() string {
	return f.name
}

// Session describes a log file on disk.
type Session struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	Type    outputtype.OutputType
}

// List returns the files in dir whose names start with prefix, newest
// first.
func List(dir, prefix string) ([]Session, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var sessions []Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		kind, err := outputtype.DetectFile(path)
		if err != nil {
			kind = outputtype.OutputTypeUnknown
		}
		sessions = append(sessions, Session{
			Name:    entry.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Type:    kind,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ModTime.Equal(sessions[j].ModTime) {
			return sessions[i].Name > sessions[j].Name
		}
		return sessions[i].ModTime.After(sessions[j].ModTime)
	})
	return sessions, nil
}
