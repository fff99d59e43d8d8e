package geometry

import (
	"bytes"
	"testing"

	"github.com/aswf/go-jpeg2000/internal/bio"
)

func TestTagTree_RoundTrip(t *testing.T) {
	width, height := 4, 3
	values := [][]int{
		{0, 1, 2, 3},
		{1, 1, 0, 2},
		{3, 2, 1, 0},
	}

	encode := NewTagTree(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			encode.SetValue(x, y, values[y][x])
		}
	}

	var buf bytes.Buffer
	w := bio.NewWriter(&buf)
	const threshold = 4
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if err := encode.Encode(w, x, y, threshold); err != nil {
				t.Fatalf("Encode(%d,%d): %v", x, y, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	decode := NewTagTree(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			decode.SetValue(x, y, tagTreeMaxValue)
		}
	}
	r := bio.NewReader(&buf)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			known, err := decode.Decode(r, x, y, threshold)
			if err != nil {
				t.Fatalf("Decode(%d,%d): %v", x, y, err)
			}
			want := values[y][x] < threshold
			if known != want {
				t.Errorf("Decode(%d,%d) known=%v, want %v", x, y, known, want)
			}
		}
	}
}

func TestTagTree_SingleLeaf(t *testing.T) {
	tree := NewTagTree(1, 1)
	tree.SetValue(0, 0, 2)
	if tree.levels != 1 {
		t.Fatalf("levels = %d, want 1", tree.levels)
	}
}
