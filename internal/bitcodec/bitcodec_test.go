package bitcodec

import (
	"math/rand"
	"testing"
)

func TestGammaRoundTrip(t *testing.T) {
	buf := make([]uint32, 64)
	values := []uint32{0, 1, 2, 3, 7, 8, 15, 16, 255, 256, 1 << 20, 1<<31 - 1}

	off := 0
	widths := make([]int, len(values))
	for i, v := range values {
		widths[i] = IDCoder.BitsFor(v)
		IDCoder.Append(buf, &off, v)
	}
	total := off

	off = 0
	for i, want := range values {
		got, ok := IDCoder.Get(buf, total, &off)
		if !ok {
			t.Fatalf("decode %d: unexpected eof", i)
		}
		if got != want {
			t.Fatalf("decode %d: got %d want %d", i, got, want)
		}
	}
}

func TestGammaBackwardRoundTrip(t *testing.T) {
	buf := make([]uint32, 64)
	off := 2048 // start near the end of the buffer, growing toward 0
	values := []uint32{5, 100, 0, 1, 70000, 3}

	for _, v := range values {
		IDCoder.AppendBack(buf, &off, v)
	}

	readOff := 2048
	for i, want := range values {
		got, ok := IDCoder.GetBack(buf, &readOff)
		if !ok {
			t.Fatalf("decode back %d: unexpected eof", i)
		}
		if got != want {
			t.Fatalf("decode back %d: got %d want %d", i, got, want)
		}
	}
	if readOff != off {
		t.Fatalf("final offsets diverge: forward-tracked=%d backward-decoded=%d", off, readOff)
	}
}

func TestGammaRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	buf := make([]uint32, 4096)
	var values []uint32
	off := 0
	for i := 0; i < 2000; i++ {
		v := uint32(r.Intn(1 << 20))
		values = append(values, v)
		LocationCoder.Append(buf, &off, v)
	}
	total := off
	off = 0
	for i, want := range values {
		got, ok := LocationCoder.Get(buf, total, &off)
		if !ok {
			t.Fatalf("decode %d: unexpected eof", i)
		}
		if got != want {
			t.Fatalf("decode %d: got %d want %d", i, got, want)
		}
	}
}

func TestPositionListRoundTrip(t *testing.T) {
	cases := [][]uint32{
		{},
		{1},
		{1, 4},
		{3, 7, 9, 12, 500},
	}
	for _, positions := range cases {
		buf := make([]uint32, 64)
		off := 0
		WritePositionList(buf, &off, positions)
		total := off

		off = 0
		got, ok := ReadPositionList(buf, total, &off, len(positions))
		if !ok {
			t.Fatalf("read failed for %v", positions)
		}
		if len(got) != len(positions) {
			t.Fatalf("got %v want %v", got, positions)
		}
		for i := range positions {
			if got[i] != positions[i] {
				t.Fatalf("got %v want %v", got, positions)
			}
		}
		if off != total {
			t.Fatalf("offset after read %d != total %d", off, total)
		}
	}
}

func TestSkipPositionList(t *testing.T) {
	positions := []uint32{2, 5, 9, 40}
	buf := make([]uint32, 64)
	off := 0
	WritePositionList(buf, &off, positions)
	// Append a sentinel afterwards to verify skip lands exactly on it.
	IDCoder.Append(buf, &off, 0xBEEF&0x1FFFFF)
	total := off

	skipOff := 0
	if !SkipPositionList(buf, total, &skipOff, len(positions)) {
		t.Fatal("skip failed")
	}
	sentinel, ok := IDCoder.Get(buf, total, &skipOff)
	if !ok {
		t.Fatal("sentinel decode failed")
	}
	if sentinel != 0xBEEF&0x1FFFFF {
		t.Fatalf("sentinel mismatch: got %d", sentinel)
	}
}

func TestMoveOverlapping(t *testing.T) {
	buf := make([]uint32, 8)
	off := 0
	for _, v := range []uint32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1} {
		Append(buf, &off, v, 3)
	}
	// shift the whole written range 5 bits to the right (overlapping copy)
	n := off
	Move(buf, 5, 0, n)
	// bits [0,5) are now stale/garbage, but [5,5+n) must equal the original pattern
	check := 5
	for i := 0; i < 10; i++ {
		v, ok := Get(buf, 5+n, &check, 3)
		if !ok || v != 1 {
			t.Fatalf("entry %d after move: got %d ok=%v", i, v, ok)
		}
	}
}
