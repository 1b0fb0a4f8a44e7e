package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rustyeddy/marketsync/market"
)

const timeColumn = "time"

var bom = []byte{0xEF, 0xBB, 0xBF}

// Mirror receives a copy of every saved series.
type Mirror interface {
	Write(ctx context.Context, e market.Entity, s market.Series) error
}

// CSVStore keeps each series as <root>/<category>/<id>.csv.
type CSVStore struct {
	Root   string
	Logger *slog.Logger
	// Mirror, when set, gets price series after each save. Its errors are
	// logged and do not fail the save.
	Mirror Mirror
}

var _ Store = (*CSVStore)(nil)

func NewCSVStore(root string, logger *slog.Logger) *CSVStore {
	return &CSVStore{Root: root, Logger: logger}
}

func (s *CSVStore) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Path returns the file that holds e.
func (s *CSVStore) Path(e market.Entity) string {
	return PathFor(s.Root, e, ".csv")
}

// Load reads the stored series. A missing file is an empty series. A file
// that cannot be parsed, or whose keys are out of order, is logged and also
// treated as empty so the entity gets a full fetch.
func (s *CSVStore) Load(ctx context.Context, e market.Entity) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(e)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreIOError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	series, err := ReadCSV(f)
	if err != nil {
		var ioErr *StoreIOError
		if errors.As(err, &ioErr) {
			ioErr.Path = path
			return nil, ioErr
		}
		s.logger().Warn("ignoring unreadable series file",
			"entity", e.Key(),
			"path", path,
			"err", err,
		)
		return nil, nil
	}
	return series, nil
}

// ReadCSV parses a series. A leading UTF-8 byte order mark is skipped.
func ReadCSV(r io.Reader) (market.Series, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		_, _ = br.Discard(len(bom))
	}

	cr := csv.NewReader(br)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || (header[0] != timeColumn && header[0] != "date") {
		return nil, fmt.Errorf("first column must be %q", timeColumn)
	}
	cols := append([]string(nil), header[1:]...)

	var out market.Series
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			return nil, &StoreIOError{Op: "load", Err: err}
		}

		k, err := market.ParseKey(row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := market.NewRecord(k)
		for i, c := range cols {
			cell := row[i+1]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, c, err)
			}
			rec.Set(c, v)
		}
		out = append(out, rec)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteCSV renders s. Absent values are empty cells.
func WriteCSV(w io.Writer, s market.Series) error {
	cols := s.Columns()
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{timeColumn}, cols...)); err != nil {
		return err
	}

	row := make([]string, len(cols)+1)
	for _, r := range s {
		row[0] = r.Key.String()
		for i, c := range cols {
			if v, ok := r.Get(c); ok {
				row[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				row[i+1] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save replaces the stored series with s.
func (s *CSVStore) Save(ctx context.Context, e market.Entity, series market.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := series.Validate(); err != nil {
		return err
	}

	path := s.Path(e)
	err := atomicWrite(path, func(w io.Writer) error { return WriteCSV(w, series) })
	if err != nil {
		return &StoreIOError{Op: "save", Path: path, Err: err}
	}

	if s.Mirror != nil && e.Category.IsPrice() {
		if err := s.Mirror.Write(ctx, e, series); err != nil {
			s.logger().Warn("mirror write failed", "entity", e.Key(), "err", err)
		}
	}
	return nil
}

// Stat reports on the stored file without reading it.
func (s *CSVStore) Stat(e market.Entity) (Info, error) {
	path := s.Path(e)
	info := Info{Path: path}
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return info, &StoreIOError{Op: "stat", Path: path, Err: err}
	}
	info.Exists = true
	info.Size = st.Size()
	info.ModTime = st.ModTime()
	return info, nil
}

// atomicWrite writes path.part, syncs it and renames it over path. The
// temporary file is removed on any failure.
func atomicWrite(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// AtomicWriteFile writes a whole file through atomicWrite. Other packages
// use it for reports.
func AtomicWriteFile(path string, write func(io.Writer) error) error {
	if err := atomicWrite(path, write); err != nil {
		return &StoreIOError{Op: "save", Path: path, Err: err}
	}
	return nil
}
