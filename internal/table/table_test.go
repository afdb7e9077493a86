package table

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func testSpecs(chunkRows int) []ColumnSpec {
	return []ColumnSpec{
		{Name: "board", DType: Int8, Width: 4, ChunkRows: chunkRows},
		{Name: "label", DType: Int8, Width: 1, ChunkRows: chunkRows},
		{Name: "count", DType: Int32, Width: 1, ChunkRows: chunkRows},
	}
}

func createTestFile(t *testing.T, chunkRows int) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.dset")
	f, err := Create(path, uuid.New(), testSpecs(chunkRows))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return f, path
}

func resizeAll(t *testing.T, f *File, n int) {
	t.Helper()
	for _, name := range []string{"board", "label", "count"} {
		if err := f.Column(name).Resize(n); err != nil {
			t.Fatalf("Resize(%s, %d): %v", name, n, err)
		}
	}
}

func writeRow(t *testing.T, f *File, i int) {
	t.Helper()
	v := int8(i % 100)
	if err := f.Column("board").PutInt8s(i, []int8{v, -v, v + 1, 0}); err != nil {
		t.Fatalf("PutInt8s(%d): %v", i, err)
	}
	if err := f.Column("label").PutInt8(i, int8(i%3)-1); err != nil {
		t.Fatalf("PutInt8(%d): %v", i, err)
	}
	if err := f.Column("count").PutInt32(i, int32(i*1000)); err != nil {
		t.Fatalf("PutInt32(%d): %v", i, err)
	}
}

func checkRows(t *testing.T, path string, n int) {
	t.Helper()
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for _, c := range r.Columns() {
		if c.Rows != n {
			t.Errorf("column %s has %d rows, want %d", c.Name, c.Rows, n)
		}
	}

	board, err := r.Ints("board")
	if err != nil {
		t.Fatalf("Ints(board): %v", err)
	}
	labels, err := r.Ints("label")
	if err != nil {
		t.Fatalf("Ints(label): %v", err)
	}
	counts, err := r.Ints("count")
	if err != nil {
		t.Fatalf("Ints(count): %v", err)
	}
	if len(board) != 4*n || len(labels) != n || len(counts) != n {
		t.Fatalf("got %d/%d/%d values, want %d/%d/%d", len(board), len(labels), len(counts), 4*n, n, n)
	}
	for i := 0; i < n; i++ {
		v := i % 100
		want := []int{v, -v, v + 1, 0}
		for j, w := range want {
			if board[i*4+j] != w {
				t.Errorf("board[%d][%d] = %d, want %d", i, j, board[i*4+j], w)
			}
		}
		if labels[i] != i%3-1 {
			t.Errorf("label[%d] = %d, want %d", i, labels[i], i%3-1)
		}
		if counts[i] != i*1000 {
			t.Errorf("count[%d] = %d, want %d", i, counts[i], i*1000)
		}
	}
}

func TestWriteCloseRoundTrip(t *testing.T) {
	f, path := createTestFile(t, 4)
	resizeAll(t, f, 3)
	for i := 0; i < 3; i++ {
		writeRow(t, f, i)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file still present after Close: %v", err)
	}
	checkRows(t, path, 3)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if h := r.Header(); h.ID != f.ID() {
		t.Errorf("header id = %s, want %s", h.ID, f.ID())
	}
}

func TestFlushAcrossChunks(t *testing.T) {
	f, path := createTestFile(t, 4)

	// Grow and flush the way the dataset writer does: partial chunks get
	// flushed, evicted and read back before they fill up.
	size := 0
	for i := 0; i < 23; i++ {
		if i >= size {
			if err := f.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
			size = 2*size + 1
			resizeAll(t, f, size)
		}
		writeRow(t, f, i)
	}
	resizeAll(t, f, 23)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	checkRows(t, path, 23)
}

func TestShrinkDiscardsRows(t *testing.T) {
	f, path := createTestFile(t, 4)
	resizeAll(t, f, 10)
	for i := 0; i < 10; i++ {
		writeRow(t, f, i)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	resizeAll(t, f, 5)
	resizeAll(t, f, 8)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	counts, err := r.Ints("count")
	if err != nil {
		t.Fatalf("Ints: %v", err)
	}
	want := []int{0, 1000, 2000, 3000, 4000, 0, 0, 0}
	if len(counts) != len(want) {
		t.Fatalf("got %d rows, want %d", len(counts), len(want))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("count[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestCloseEmpty(t *testing.T) {
	f, path := createTestFile(t, 0)
	resizeAll(t, f, 7)
	resizeAll(t, f, 0)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	checkRows(t, path, 0)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	for _, c := range r.Columns() {
		if c.ChunkRows != DefaultChunkRows {
			t.Errorf("column %s chunk rows = %d, want %d", c.Name, c.ChunkRows, DefaultChunkRows)
		}
	}
}

func TestWriteErrors(t *testing.T) {
	f, _ := createTestFile(t, 4)
	defer f.Abort()
	resizeAll(t, f, 2)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"row past length", f.Column("label").PutInt8(2, 1), ErrOutOfRange},
		{"negative row", f.Column("label").PutInt8(-1, 1), ErrOutOfRange},
		{"short row", f.Column("board").PutInt8s(0, []int8{1}), ErrType},
		{"int32 into int8", f.Column("label").PutInt32(0, 1), ErrType},
		{"int8 into int32", f.Column("count").PutInt8(0, 1), ErrType},
		{"negative resize", f.Column("count").Resize(-1), ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("got %v, want %v", tt.err, tt.want)
			}
		})
	}

	if f.Column("missing") != nil {
		t.Error("Column(missing) should be nil")
	}
}

func TestCreateValidation(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		specs []ColumnSpec
	}{
		{"no columns", nil},
		{"empty name", []ColumnSpec{{Name: "", DType: Int8, Width: 1}}},
		{"bad dtype", []ColumnSpec{{Name: "a", DType: 9, Width: 1}}},
		{"unused dtype code", []ColumnSpec{{Name: "a", DType: 2, Width: 1}}},
		{"zero width", []ColumnSpec{{Name: "a", DType: Int8, Width: 0}}},
		{"duplicate", []ColumnSpec{{Name: "a", DType: Int8, Width: 1}, {Name: "a", DType: Int8, Width: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Create(filepath.Join(dir, tt.name+".dset"), uuid.New(), tt.specs); err == nil {
				t.Error("Create succeeded, want error")
			}
		})
	}
}

func TestAbortLeavesNothing(t *testing.T) {
	f, path := createTestFile(t, 4)
	resizeAll(t, f, 1)
	writeRow(t, f, 0)
	if err := f.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close after Abort: %v", err)
	}
	for _, p := range []string{path, path + ".tmp"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s exists after Abort", p)
		}
	}
	if err := f.Column("label").PutInt8(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("write after Abort: got %v, want ErrClosed", err)
	}
}

func TestVerifyRejectsUnclosed(t *testing.T) {
	f, path := createTestFile(t, 4)
	resizeAll(t, f, 2)
	writeRow(t, f, 0)
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The temporary file has data but no footer.
	if err := Verify(path + ".tmp"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Verify(unclosed) = %v, want ErrCorrupt", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Verify(path); err != nil {
		t.Errorf("Verify(closed) = %v", err)
	}

	// Flip a footer byte.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-TrailerSize-1] ^= 0xFF
	bad := filepath.Join(filepath.Dir(path), "bad.dset")
	if err := os.WriteFile(bad, data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Verify(bad); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Verify(corrupt) = %v, want ErrCorrupt", err)
	}
}
