package reorder

import "testing"

func TestReleasablePrefix(t *testing.T) {
	tests := []struct {
		name      string
		watermark uint64
		indices   []uint64
		wantN     int
		wantNext  uint64
		wantOK    bool
	}{
		{"empty", 0, nil, 0, 0, false},
		{"first chunk", 0, []uint64{0}, 1, 1, true},
		{"two contiguous", 0, []uint64{0, 1}, 2, 2, true},
		{"at most two", 0, []uint64{0, 1, 2}, 2, 2, true},
		{"gap", 3, []uint64{5}, 0, 3, false},
		{"stops at gap", 2, []uint64{2, 3, 5}, 2, 4, true},
		{"duplicates", 0, []uint64{0, 0, 1}, 3, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending := make([]Chunk, len(tt.indices))
			for i, idx := range tt.indices {
				pending[i] = Chunk{Index: idx}
			}
			n, next, ok := releasablePrefix(tt.watermark, pending)
			if n != tt.wantN || next != tt.wantNext || ok != tt.wantOK {
				t.Errorf("releasablePrefix = (%d, %d, %v), want (%d, %d, %v)", n, next, ok, tt.wantN, tt.wantNext, tt.wantOK)
			}
		})
	}
}

func TestInsertionSortStable(t *testing.T) {
	chunks := []Chunk{
		{Index: 3, Data: []byte("c")},
		{Index: 1, Data: []byte("a1")},
		{Index: 2, Data: []byte("b")},
		{Index: 1, Data: []byte("a2")},
	}
	insertionSort(chunks)

	want := []string{"a1", "a2", "b", "c"}
	for i, c := range chunks {
		if string(c.Data) != want[i] {
			t.Fatalf("position %d holds %q, want %q", i, c.Data, want[i])
		}
	}
}
