// Package store persists one series per entity.
//
// Files are replaced atomically: a save writes a temporary file next to the
// target and renames it into place, so a reader sees either the old or the
// new contents, never a mix.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rustyeddy/marketsync/market"
)

// Store loads and saves series.
type Store interface {
	Load(ctx context.Context, e market.Entity) (market.Series, error)
	Save(ctx context.Context, e market.Entity, s market.Series) error
	Stat(e market.Entity) (Info, error)
}

// Info describes a stored file.
type Info struct {
	Path    string
	Exists  bool
	Size    int64
	ModTime time.Time
}

// StoreIOError is a filesystem failure while reading or replacing a file.
type StoreIOError struct {
	Op   string // "load", "save", "stat", "mirror"
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

var unsafeChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// FileStem turns an entity id into a safe file name stem.
func FileStem(id string) string {
	s := unsafeChars.Replace(strings.TrimSpace(id))
	if s == "" || s == "." || s == ".." {
		s = "_"
	}
	return s
}

// SlotKey identifies the file an entity is stored in. Two entities with
// the same slot would share one file, also on case-insensitive
// filesystems, so callers treat them as duplicates.
func SlotKey(e market.Entity) string {
	return string(e.Category) + "/" + strings.ToLower(FileStem(e.ID))
}

// PathFor is <root>/<category>/<stem><ext>.
func PathFor(root string, e market.Entity, ext string) string {
	return filepath.Join(root, string(e.Category), FileStem(e.ID)+ext)
}
