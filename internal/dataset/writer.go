// Package dataset appends training tuples to a growable five-column table.
package dataset

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/freeeve/chessgraph/datagen/internal/sample"
	"github.com/freeeve/chessgraph/datagen/internal/table"
)

// Column names. Downstream loaders index by these.
const (
	ColCurrent   = "x"
	ColRandom    = "xr"
	ColParent    = "xp"
	ColOutcome   = "y"
	ColMovesLeft = "m"
)

// Columns lists the dataset columns in file order.
var Columns = []string{ColCurrent, ColRandom, ColParent, ColOutcome, ColMovesLeft}

// Options configures a Writer.
type Options struct {
	ChunkRows int       // rows per storage chunk (0 = table default)
	ID        uuid.UUID // dataset id (zero = random)
}

// Writer owns one output table for the processing of one input file.
//
// Capacity grows as 2*capacity+1 whenever the next row does not fit, with a
// flush before each growth. Close trims every column to the exact row count.
type Writer struct {
	tbl      *table.File
	x        *table.Column
	xr       *table.Column
	xp       *table.Column
	y        *table.Column
	m        *table.Column
	rows     int
	capacity int
	done     bool
}

// Create opens a new dataset at path with every column empty.
func Create(path string, opts Options) (*Writer, error) {
	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	board := func(name string) table.ColumnSpec {
		return table.ColumnSpec{Name: name, DType: table.Int8, Width: 64, ChunkRows: opts.ChunkRows}
	}
	specs := []table.ColumnSpec{
		board(ColCurrent),
		board(ColRandom),
		board(ColParent),
		{Name: ColOutcome, DType: table.Int8, Width: 1, ChunkRows: opts.ChunkRows},
		{Name: ColMovesLeft, DType: table.Int32, Width: 1, ChunkRows: opts.ChunkRows},
	}

	tbl, err := table.Create(path, id, specs)
	if err != nil {
		return nil, fmt.Errorf("create dataset %s: %w", path, err)
	}
	return &Writer{
		tbl: tbl,
		x:   tbl.Column(ColCurrent),
		xr:  tbl.Column(ColRandom),
		xp:  tbl.Column(ColParent),
		y:   tbl.Column(ColOutcome),
		m:   tbl.Column(ColMovesLeft),
	}, nil
}

func (w *Writer) columns() []*table.Column {
	return []*table.Column{w.x, w.xr, w.xp, w.y, w.m}
}

// ID returns the dataset id written to the file header.
func (w *Writer) ID() uuid.UUID {
	return w.tbl.ID()
}

// Rows returns the number of rows appended so far.
func (w *Writer) Rows() int {
	return w.rows
}

// Capacity returns the number of rows currently allocated in every column.
func (w *Writer) Capacity() int {
	return w.capacity
}

// Append writes t at the next row. The row count only advances when all five
// values were written.
func (w *Writer) Append(t sample.Tuple) error {
	if w.done {
		return table.ErrClosed
	}
	if w.rows >= w.capacity {
		if err := w.tbl.Flush(); err != nil {
			return err
		}
		if err := w.resize(2*w.capacity + 1); err != nil {
			return err
		}
	}

	i := w.rows
	if err := w.x.PutInt8s(i, t.Current.Int8s()); err != nil {
		return err
	}
	if err := w.xr.PutInt8s(i, t.Random.Int8s()); err != nil {
		return err
	}
	if err := w.xp.PutInt8s(i, t.Parent.Int8s()); err != nil {
		return err
	}
	if err := w.y.PutInt8(i, t.Outcome); err != nil {
		return err
	}
	if err := w.m.PutInt32(i, int32(t.MovesLeft)); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *Writer) resize(n int) error {
	for _, c := range w.columns() {
		if err := c.Resize(n); err != nil {
			return fmt.Errorf("resize %s to %d: %w", c.Spec().Name, n, err)
		}
	}
	w.capacity = n
	return nil
}

// Close trims every column to Rows and publishes the file. It is a no-op
// after Close or Abort.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.resize(w.rows); err != nil {
		w.tbl.Abort()
		return err
	}
	return w.tbl.Close()
}

// Abort discards the output without publishing it. It is a no-op after Close
// or Abort.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.tbl.Abort()
}
