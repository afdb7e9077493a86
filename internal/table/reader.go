package table

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// ColumnInfo describes a column of a closed table.
type ColumnInfo struct {
	Name      string
	DType     DType
	Width     int
	ChunkRows int
	Rows      int
}

// Reader reads back a table written by File.Close.
type Reader struct {
	f      *os.File
	header *Header
	cols   []columnMeta
}

// Open validates the header, trailer and footer of a closed table.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < HeaderSize+TrailerSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupt, size)
	}

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	header, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	trailer := make([]byte, TrailerSize)
	if _, err := f.ReadAt(trailer, size-TrailerSize); err != nil {
		return nil, err
	}
	footerOffset, checksum, err := decodeTrailer(trailer)
	if err != nil {
		return nil, err
	}
	if footerOffset < HeaderSize || footerOffset > size-TrailerSize {
		return nil, fmt.Errorf("%w: footer offset %d out of bounds", ErrCorrupt, footerOffset)
	}

	footer := make([]byte, size-TrailerSize-footerOffset)
	if _, err := f.ReadAt(footer, footerOffset); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(footer) != checksum {
		return nil, fmt.Errorf("%w: footer checksum mismatch", ErrCorrupt)
	}
	cols, err := decodeFooter(footer, int(header.ColumnCount))
	if err != nil {
		return nil, err
	}

	return &Reader{f: f, header: header, cols: cols}, nil
}

// Verify reports whether path holds a complete, closed table.
func Verify(path string) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	return r.Close()
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return *r.header
}

// Columns lists the columns in creation order.
func (r *Reader) Columns() []ColumnInfo {
	out := make([]ColumnInfo, len(r.cols))
	for i, c := range r.cols {
		out[i] = ColumnInfo{
			Name:      c.Name,
			DType:     c.DType,
			Width:     c.Width,
			ChunkRows: c.ChunkRows,
			Rows:      c.Rows,
		}
	}
	return out
}

func (r *Reader) column(name string) (*columnMeta, error) {
	for i := range r.cols {
		if r.cols[i].Name == name {
			return &r.cols[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
}

// Raw returns all rows of a column as little-endian bytes.
func (r *Reader) Raw(name string) ([]byte, error) {
	c, err := r.column(name)
	if err != nil {
		return nil, err
	}
	rowBytes := c.rowBytes()
	out := make([]byte, c.Rows*rowBytes)
	for idx, off := range c.Offsets {
		if off == 0 {
			continue // never written, stays zero
		}
		start := idx * c.ChunkRows * rowBytes
		end := min(start+c.ChunkRows*rowBytes, len(out))
		if _, err := r.f.ReadAt(out[start:end], off); err != nil {
			return nil, fmt.Errorf("read chunk %d of %s: %w", idx, name, err)
		}
	}
	return out, nil
}

// Ints decodes all elements of a column, row-major, widened to int.
func (r *Reader) Ints(name string) ([]int, error) {
	c, err := r.column(name)
	if err != nil {
		return nil, err
	}
	raw, err := r.Raw(name)
	if err != nil {
		return nil, err
	}
	size := c.DType.Size()
	out := make([]int, len(raw)/size)
	for i := range out {
		b := raw[i*size:]
		switch c.DType {
		case Int8:
			out[i] = int(int8(b[0]))
		case Int32:
			out[i] = int(int32(binary.LittleEndian.Uint32(b)))
		}
	}
	return out, nil
}
