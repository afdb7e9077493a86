package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/freeeve/chessgraph/datagen/internal/board"
	"github.com/freeeve/chessgraph/datagen/internal/sample"
	"github.com/freeeve/chessgraph/datagen/internal/table"
)

func testTuple(i int) sample.Tuple {
	var t sample.Tuple
	for sq := range t.Current {
		t.Current[sq] = int8((i + sq) % board.NumKinds)
		t.Parent[sq] = int8((i + sq + 1) % board.NumKinds)
		t.Random[sq] = int8((i + sq + 2) % board.NumKinds)
	}
	t.MovesLeft = 1000 + i
	t.Outcome = int8(i%3 - 1)
	return t
}

func TestAppendClose(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 9, 40} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.dset")
			w, err := Create(path, Options{ChunkRows: 4})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			for i := 0; i < n; i++ {
				if err := w.Append(testTuple(i)); err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
			}
			if w.Rows() != n {
				t.Errorf("Rows = %d, want %d", w.Rows(), n)
			}
			if w.Capacity() < n {
				t.Errorf("Capacity %d below rows %d", w.Capacity(), n)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			r, err := table.Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()

			if got := r.Header().ID; got != w.ID() {
				t.Errorf("header id = %v, want %v", got, w.ID())
			}
			for i, c := range r.Columns() {
				if c.Name != Columns[i] {
					t.Errorf("column %d = %s, want %s", i, c.Name, Columns[i])
				}
				if c.Rows != n {
					t.Errorf("column %s has %d rows, want %d", c.Name, c.Rows, n)
				}
			}

			x, _ := r.Ints(ColCurrent)
			xp, _ := r.Ints(ColParent)
			xr, _ := r.Ints(ColRandom)
			y, _ := r.Ints(ColOutcome)
			m, _ := r.Ints(ColMovesLeft)
			if len(x) != 64*n || len(xp) != 64*n || len(xr) != 64*n || len(y) != n || len(m) != n {
				t.Fatalf("element counts %d/%d/%d/%d/%d for %d rows", len(x), len(xp), len(xr), len(y), len(m), n)
			}
			for i := 0; i < n; i++ {
				want := testTuple(i)
				for sq := 0; sq < 64; sq++ {
					if x[i*64+sq] != int(want.Current[sq]) ||
						xp[i*64+sq] != int(want.Parent[sq]) ||
						xr[i*64+sq] != int(want.Random[sq]) {
						t.Fatalf("row %d square %d mismatch", i, sq)
					}
				}
				if y[i] != int(want.Outcome) || m[i] != want.MovesLeft {
					t.Errorf("row %d: y=%d m=%d, want y=%d m=%d", i, y[i], m[i], want.Outcome, want.MovesLeft)
				}
			}
		})
	}
}

func TestCapacityGrowth(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "out.dset"), Options{ChunkRows: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Abort()

	if w.Capacity() != 0 {
		t.Fatalf("initial capacity = %d, want 0", w.Capacity())
	}
	want := []int{1, 3, 3, 7, 7, 7, 7, 15}
	for i, c := range want {
		if err := w.Append(testTuple(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if w.Capacity() != c {
			t.Errorf("after %d rows capacity = %d, want %d", i+1, w.Capacity(), c)
		}
	}
}

func TestCreateWithID(t *testing.T) {
	id := uuid.New()
	path := filepath.Join(t.TempDir(), "out.dset")
	w, err := Create(path, Options{ID: id})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if w.ID() != id {
		t.Errorf("ID = %v, want %v", w.ID(), id)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r, err := table.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Header().ID != id {
		t.Errorf("header id = %v, want %v", r.Header().ID, id)
	}
}

func TestAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.dset")
	w, err := Create(path, Options{ChunkRows: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := w.Append(testTuple(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	for _, p := range []string{path, path + ".tmp"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s exists after Abort", p)
		}
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close after Abort = %v, want nil", err)
	}
}

func TestUseAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.dset")
	w, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Append(testTuple(0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := w.Append(testTuple(1)); !errors.Is(err, table.ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
	if err := w.Abort(); err != nil {
		t.Errorf("Abort after Close = %v, want nil", err)
	}
	if err := table.Verify(path); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
