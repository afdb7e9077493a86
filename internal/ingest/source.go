package ingest

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/chessgraph/datagen/internal/sample"
)

// openSource opens a PGN file, decompressing .zst files on the fly.
func openSource(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

var (
	fenTagPrefix      = []byte("[FEN")
	renamedFENTagName = []byte("[" + sample.TagSetUpFEN)
)

// fenTagFilter renames FEN tags to sample.TagSetUpFEN. The PGN parser builds
// the start position from a FEN tag, and an invalid one makes it drop every
// later record of the same parse chunk. Renamed records replay from the
// standard position and are rejected by the sampler.
type fenTagFilter struct {
	br  *bufio.Reader
	buf []byte
	err error
}

func newFENTagFilter(r io.Reader) *fenTagFilter {
	return &fenTagFilter{br: bufio.NewReaderSize(r, 256*1024)}
}

func (f *fenTagFilter) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		var line []byte
		line, f.err = f.br.ReadBytes('\n')
		f.buf = renameFENTag(line)
	}
	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// Err returns the read error that ended the stream, or nil at a clean end of
// file. The parser drops read errors, so callers check here once it is done.
func (f *fenTagFilter) Err() error {
	if f.err == io.EOF {
		return nil
	}
	return f.err
}

// renameFENTag rewrites a [FEN "..."] line and returns any other line as is.
func renameFENTag(line []byte) []byte {
	trimmed := bytes.TrimLeft(line, " \t")
	if !bytes.HasPrefix(trimmed, fenTagPrefix) {
		return line
	}
	rest := trimmed[len(fenTagPrefix):]
	if len(rest) == 0 || (rest[0] != ' ' && rest[0] != '\t' && rest[0] != '"') {
		return line
	}
	out := make([]byte, 0, len(line)+len(renamedFENTagName))
	out = append(out, line[:len(line)-len(trimmed)]...)
	out = append(out, renamedFENTagName...)
	return append(out, rest...)
}
