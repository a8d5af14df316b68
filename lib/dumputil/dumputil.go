package dumputil

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Output receives a named blob for later inspection, Write never fails the
// caller.
type Output interface {
	Write(id string, contents string)
}

// FilesystemOutput writes every blob to <directory>/<id>.html and keeps at
// most Keep of them, the oldest are removed first.
type FilesystemOutput struct {
	directory string
	keep      int
}

func NewFilesystemOutput(dir string, keep int) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return FilesystemOutput{}, err
	}
	if keep <= 0 {
		keep = 10
	}
	return FilesystemOutput{directory: dir, keep: keep}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	name := filepath.Join(o.directory, sanitize(id)+".html")
	err := os.WriteFile(name, []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write dump", "id", id, "err", err)
		return
	}
	o.rotate()
}

func (o FilesystemOutput) rotate() {
	entries, err := os.ReadDir(o.directory)
	if err != nil {
		slog.Warn("failed to list dumps", "dir", o.directory, "err", err)
		return
	}

	type dump struct {
		name    string
		modTime int64
	}
	var dumps []dump
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".html") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dumps = append(dumps, dump{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	if len(dumps) <= o.keep {
		return
	}

	sort.Slice(dumps, func(i, j int) bool {
		if dumps[i].modTime == dumps[j].modTime {
			return dumps[i].name < dumps[j].name
		}
		return dumps[i].modTime < dumps[j].modTime
	})
	for _, d := range dumps[:len(dumps)-o.keep] {
		err := os.Remove(filepath.Join(o.directory, d.name))
		if err != nil {
			slog.Warn("failed to remove dump", "name", d.name, "err", err)
		}
	}
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
