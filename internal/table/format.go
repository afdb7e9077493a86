package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

// DSET format: chunked, growable columns in a single file.
//
// File structure:
//   Header (64 bytes):
//     - Magic (4): "DSET"
//     - Version (2): 1
//     - ColumnCount (2)
//     - ID (16): dataset UUID
//     - Created (8): unix nanoseconds
//     - Reserved (32)
//   Chunk slots:
//     - Each column is cut into chunks of ChunkRows rows. A chunk gets a fixed
//       slot of ChunkRows*rowBytes bytes the first time it is flushed and is
//       rewritten in place afterwards.
//   Footer (written on Close), per column:
//     - NameLen (1), Name
//     - DType (1), Width (4), ChunkRows (4)
//     - Rows (8)
//     - ChunkCount (4), then ChunkCount offsets (8 each, 0 = never written)
//   Trailer (16 bytes):
//     - FooterOffset (8)
//     - FooterChecksum (4): CRC32 of the footer
//     - Magic (4): "DEND"

const (
	Magic        = "DSET"
	TrailerMagic = "DEND"
	Version      = 1
	HeaderSize   = 64
	TrailerSize  = 16
)

// ErrCorrupt is returned for files that are truncated or fail validation.
var ErrCorrupt = errors.New("table: corrupt file")

// Header is the fixed-size file header.
type Header struct {
	Magic       [4]byte
	Version     uint16
	ColumnCount uint16
	ID          uuid.UUID
	Created     int64
	Reserved    [32]byte
}

// CreatedAt returns the creation time recorded in the header.
func (h *Header) CreatedAt() time.Time {
	return time.Unix(0, h.Created)
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.ColumnCount)
	copy(buf[8:24], h.ID[:])
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.Created))
	copy(buf[32:64], h.Reserved[:])
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header too short", ErrCorrupt)
	}
	h := &Header{}
	copy(h.Magic[:], buf[0:4])
	if string(h.Magic[:]) != Magic {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrCorrupt, h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported version: %d", h.Version)
	}
	h.ColumnCount = binary.LittleEndian.Uint16(buf[6:8])
	copy(h.ID[:], buf[8:24])
	h.Created = int64(binary.LittleEndian.Uint64(buf[24:32]))
	copy(h.Reserved[:], buf[32:64])
	return h, nil
}

// columnMeta is the footer entry for one column.
type columnMeta struct {
	ColumnSpec
	Rows    int
	Offsets []int64
}

func encodeFooter(cols []columnMeta) []byte {
	var buf []byte
	for _, c := range cols {
		buf = append(buf, byte(len(c.Name)))
		buf = append(buf, c.Name...)
		buf = append(buf, byte(c.DType))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(c.Width))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(c.ChunkRows))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Rows))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Offsets)))
		for _, off := range c.Offsets {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(off))
		}
	}
	return buf
}

func decodeFooter(buf []byte, n int) ([]columnMeta, error) {
	cols := make([]columnMeta, 0, n)
	pos := 0
	need := func(k int) error {
		if pos+k > len(buf) {
			return fmt.Errorf("%w: footer truncated", ErrCorrupt)
		}
		return nil
	}

	for i := 0; i < n; i++ {
		var c columnMeta
		if err := need(1); err != nil {
			return nil, err
		}
		nameLen := int(buf[pos])
		pos++
		if err := need(nameLen + 1 + 4 + 4 + 8 + 4); err != nil {
			return nil, err
		}
		c.Name = string(buf[pos : pos+nameLen])
		pos += nameLen
		c.DType = DType(buf[pos])
		pos++
		c.Width = int(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		c.ChunkRows = int(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		c.Rows = int(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		chunks := int(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		if err := need(chunks * 8); err != nil {
			return nil, err
		}
		c.Offsets = make([]int64, chunks)
		for j := range c.Offsets {
			c.Offsets[j] = int64(binary.LittleEndian.Uint64(buf[pos:]))
			pos += 8
		}
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if chunks != chunkCount(c.Rows, c.ChunkRows) {
			return nil, fmt.Errorf("%w: column %s has %d chunks for %d rows", ErrCorrupt, c.Name, chunks, c.Rows)
		}
		cols = append(cols, c)
	}
	if pos != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing footer bytes", ErrCorrupt, len(buf)-pos)
	}
	return cols, nil
}

func encodeTrailer(footerOffset int64, footer []byte) []byte {
	buf := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(footerOffset))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(footer))
	copy(buf[12:16], TrailerMagic)
	return buf
}

func decodeTrailer(buf []byte) (footerOffset int64, checksum uint32, err error) {
	if len(buf) < TrailerSize {
		return 0, 0, fmt.Errorf("%w: trailer too short", ErrCorrupt)
	}
	if string(buf[12:16]) != TrailerMagic {
		return 0, 0, fmt.Errorf("%w: missing trailer (file not closed?)", ErrCorrupt)
	}
	return int64(binary.LittleEndian.Uint64(buf[0:8])), binary.LittleEndian.Uint32(buf[8:12]), nil
}

// chunkCount returns the number of chunks needed to hold rows rows.
func chunkCount(rows, chunkRows int) int {
	return (rows + chunkRows - 1) / chunkRows
}
