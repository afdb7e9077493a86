package board

// Array is the encoded form of a board: one int8 per square, row-major from
// rank 1 (or rank 8 when flipped).
//
// Value encoding:
//   0:      empty
//   1..6:   piece of the side that is oriented as player 0
//   8..13:  piece of the other side (color*7 + kind)
type Array [64]int8

// Encode packs every occupied square as color*7+kind at row*8+col. With flip
// set, rows are inverted and colors swapped so the position reads from the
// point of view of the second player.
func Encode(b Board, flip bool) Array {
	var a Array
	for sq, p := range b.Squares {
		if p.IsEmpty() {
			continue
		}
		color := int(p.Color)
		row, col := sq/8, sq%8
		if flip {
			row = 7 - row
			color = 1 - color
		}
		a[row*8+col] = int8(color*NumKinds + int(p.Kind))
	}
	return a
}

// Int8s returns the array as a slice for column writes.
func (a *Array) Int8s() []int8 {
	return a[:]
}
