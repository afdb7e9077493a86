// Package table writes typed, chunked columns that can grow and shrink along
// the row axis. All columns of a File live in a single file which is written
// under a temporary name and renamed into place on Close.
package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultChunkRows is used when a ColumnSpec leaves ChunkRows unset.
const DefaultChunkRows = 1024

var (
	ErrOutOfRange    = errors.New("table: row out of range")
	ErrClosed        = errors.New("table: file closed")
	ErrType          = errors.New("table: value does not match column type")
	ErrUnknownColumn = errors.New("table: unknown column")
)

// DType is the element type of a column.
type DType uint8

const (
	Int8  DType = 1
	Int32 DType = 3
)

// Size returns the element size in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case Int8:
		return 1
	case Int32:
		return 4
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ColumnSpec describes one column. Width is the number of elements per row,
// 1 for scalar columns.
type ColumnSpec struct {
	Name      string
	DType     DType
	Width     int
	ChunkRows int
}

func (s ColumnSpec) validate() error {
	if s.Name == "" || len(s.Name) > 255 {
		return fmt.Errorf("column name %q: length must be 1-255", s.Name)
	}
	if s.DType.Size() == 0 {
		return fmt.Errorf("column %s: unknown dtype %d", s.Name, s.DType)
	}
	if s.Width <= 0 {
		return fmt.Errorf("column %s: width must be positive, got %d", s.Name, s.Width)
	}
	if s.ChunkRows <= 0 {
		return fmt.Errorf("column %s: chunk rows must be positive, got %d", s.Name, s.ChunkRows)
	}
	return nil
}

func (s ColumnSpec) rowBytes() int {
	return s.Width * s.DType.Size()
}

// File is a table open for writing.
type File struct {
	path    string
	tmpPath string
	f       *os.File
	header  Header
	cols    []*Column
	byName  map[string]*Column
	end     int64 // next free slot offset
	closed  bool
}

// Column is one growable column of a File. Its length is the allocated row
// count; rows that were never written read back as zero.
type Column struct {
	file       *File
	spec       ColumnSpec
	rowBytes   int
	chunkBytes int
	length     int
	offsets    []int64        // slot offset per chunk, 0 = not yet on disk
	resident   map[int]*chunk // chunks held in memory
}

type chunk struct {
	data  []byte
	dirty bool
}

// Create starts a new table at path. Data goes to path+".tmp" until Close.
// Every column starts with length 0.
func Create(path string, id uuid.UUID, specs []ColumnSpec) (*File, error) {
	if len(specs) == 0 {
		return nil, errors.New("table: no columns")
	}

	t := &File{
		path:    path,
		tmpPath: path + ".tmp",
		byName:  make(map[string]*Column, len(specs)),
		end:     HeaderSize,
	}
	for _, spec := range specs {
		if spec.ChunkRows == 0 {
			spec.ChunkRows = DefaultChunkRows
		}
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("table: %w", err)
		}
		if _, dup := t.byName[spec.Name]; dup {
			return nil, fmt.Errorf("table: duplicate column %s", spec.Name)
		}
		c := &Column{
			file:       t,
			spec:       spec,
			rowBytes:   spec.rowBytes(),
			chunkBytes: spec.rowBytes() * spec.ChunkRows,
			resident:   make(map[int]*chunk),
		}
		t.cols = append(t.cols, c)
		t.byName[spec.Name] = c
	}

	t.header = Header{
		Version:     Version,
		ColumnCount: uint16(len(specs)),
		ID:          id,
		Created:     time.Now().UnixNano(),
	}
	copy(t.header.Magic[:], Magic)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(t.tmpPath)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteAt(encodeHeader(&t.header), 0); err != nil {
		f.Close()
		os.Remove(t.tmpPath)
		return nil, fmt.Errorf("write header: %w", err)
	}
	t.f = f
	return t, nil
}

// Path returns the final path of the table.
func (t *File) Path() string {
	return t.path
}

// ID returns the dataset id stored in the header.
func (t *File) ID() uuid.UUID {
	return t.header.ID
}

// Column returns the named column, or nil.
func (t *File) Column(name string) *Column {
	return t.byName[name]
}

// Flush writes every dirty chunk to its slot and syncs the file. Clean chunks
// are dropped from memory afterwards.
func (t *File) Flush() error {
	if t.closed {
		return ErrClosed
	}
	for _, c := range t.cols {
		if err := c.flush(); err != nil {
			return fmt.Errorf("flush column %s: %w", c.spec.Name, err)
		}
	}
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Close flushes, writes the footer and renames the file into place. Calling
// Close on a closed or aborted File is a no-op.
func (t *File) Close() error {
	if t.closed {
		return nil
	}
	if err := t.Flush(); err != nil {
		t.Abort()
		return err
	}

	metas := make([]columnMeta, len(t.cols))
	for i, c := range t.cols {
		metas[i] = columnMeta{ColumnSpec: c.spec, Rows: c.length, Offsets: c.offsets}
	}
	footer := encodeFooter(metas)
	footerOffset := t.end
	if _, err := t.f.WriteAt(footer, footerOffset); err != nil {
		t.Abort()
		return fmt.Errorf("write footer: %w", err)
	}
	if _, err := t.f.WriteAt(encodeTrailer(footerOffset, footer), footerOffset+int64(len(footer))); err != nil {
		t.Abort()
		return fmt.Errorf("write trailer: %w", err)
	}
	if err := t.f.Sync(); err != nil {
		t.Abort()
		return fmt.Errorf("sync: %w", err)
	}

	t.closed = true
	if err := t.f.Close(); err != nil {
		os.Remove(t.tmpPath)
		return fmt.Errorf("close %s: %w", t.tmpPath, err)
	}
	if err := os.Rename(t.tmpPath, t.path); err != nil {
		os.Remove(t.tmpPath)
		return fmt.Errorf("rename %s: %w", t.path, err)
	}
	return nil
}

// Abort closes the file and removes the temporary data without publishing
// it. It is a no-op after Close.
func (t *File) Abort() error {
	if t.closed {
		return nil
	}
	t.closed = true
	closeErr := t.f.Close()
	if err := os.Remove(t.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", t.tmpPath, err)
	}
	return closeErr
}

// Spec returns the column description.
func (c *Column) Spec() ColumnSpec {
	return c.spec
}

// Len returns the allocated row count.
func (c *Column) Len() int {
	return c.length
}

// Resize changes the allocated row count. Growing allocates nothing on disk;
// shrinking discards rows at and beyond n, so growing again reads zeros.
func (c *Column) Resize(n int) error {
	if c.file.closed {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("%w: resize to %d", ErrOutOfRange, n)
	}

	if n < c.length {
		keep := chunkCount(n, c.spec.ChunkRows)
		for idx := range c.resident {
			if idx >= keep {
				delete(c.resident, idx)
			}
		}
		// Zero the cut-off rows of the last kept chunk.
		if rem := n % c.spec.ChunkRows; rem != 0 {
			idx := n / c.spec.ChunkRows
			if _, ok := c.resident[idx]; ok || c.offsets[idx] != 0 {
				ch, err := c.load(idx)
				if err != nil {
					return err
				}
				clear(ch.data[rem*c.rowBytes:])
				ch.dirty = true
			}
		}
		c.offsets = c.offsets[:keep]
	} else {
		for len(c.offsets) < chunkCount(n, c.spec.ChunkRows) {
			c.offsets = append(c.offsets, 0)
		}
	}
	c.length = n
	return nil
}

// PutInt8s writes a full row of an int8 column.
func (c *Column) PutInt8s(i int, v []int8) error {
	if c.spec.DType != Int8 || len(v) != c.spec.Width {
		return fmt.Errorf("%w: %d int8 values for %s (%s x %d)", ErrType, len(v), c.spec.Name, c.spec.DType, c.spec.Width)
	}
	row, err := c.row(i)
	if err != nil {
		return err
	}
	for j, x := range v {
		row[j] = byte(x)
	}
	return nil
}

// PutInt8 writes a scalar int8 row.
func (c *Column) PutInt8(i int, v int8) error {
	return c.PutInt8s(i, []int8{v})
}

// PutInt32 writes a scalar int32 row.
func (c *Column) PutInt32(i int, v int32) error {
	if c.spec.DType != Int32 || c.spec.Width != 1 {
		return fmt.Errorf("%w: int32 scalar for %s (%s x %d)", ErrType, c.spec.Name, c.spec.DType, c.spec.Width)
	}
	row, err := c.row(i)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(row, uint32(v))
	return nil
}

// row returns the writable bytes of row i and marks its chunk dirty.
func (c *Column) row(i int) ([]byte, error) {
	if c.file.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= c.length {
		return nil, fmt.Errorf("%w: row %d of %s (len %d)", ErrOutOfRange, i, c.spec.Name, c.length)
	}
	ch, err := c.load(i / c.spec.ChunkRows)
	if err != nil {
		return nil, err
	}
	ch.dirty = true
	off := (i % c.spec.ChunkRows) * c.rowBytes
	return ch.data[off : off+c.rowBytes], nil
}

// load returns chunk idx, reading it back from its slot if it was flushed.
func (c *Column) load(idx int) (*chunk, error) {
	if ch, ok := c.resident[idx]; ok {
		return ch, nil
	}
	ch := &chunk{data: make([]byte, c.chunkBytes)}
	if off := c.offsets[idx]; off != 0 {
		if _, err := c.file.f.ReadAt(ch.data, off); err != nil {
			return nil, fmt.Errorf("read chunk %d of %s: %w", idx, c.spec.Name, err)
		}
	}
	c.resident[idx] = ch
	return ch, nil
}

func (c *Column) flush() error {
	idxs := make([]int, 0, len(c.resident))
	for idx := range c.resident {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	for _, idx := range idxs {
		ch := c.resident[idx]
		if ch.dirty {
			if c.offsets[idx] == 0 {
				c.offsets[idx] = c.file.end
				c.file.end += int64(c.chunkBytes)
			}
			if _, err := c.file.f.WriteAt(ch.data, c.offsets[idx]); err != nil {
				return err
			}
		}
		delete(c.resident, idx)
	}
	return nil
}
