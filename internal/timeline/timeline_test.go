package timeline

import "testing"

func TestNormalizeSortsAndDedupes(t *testing.T) {
	got := Normalize([]TimePoint{5, 1, 3, 1, 5, 2})
	want := TimeSet{1, 2, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("Normalize: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Normalize: got %v, want %v", got, want)
		}
	}
}

func TestMergeUnion(t *testing.T) {
	got := Merge(TimeSet{1, 3, 5}, TimeSet{2, 3, 6})
	want := TimeSet{1, 2, 3, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("Merge: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Merge: got %v, want %v", got, want)
		}
	}
}

func TestFloorAndNearest(t *testing.T) {
	s := TimeSet{10, 20, 30}

	if _, ok := s.Floor(5); ok {
		t.Fatalf("Floor(5) should miss")
	}
	if p, ok := s.Floor(25); !ok || p != 20 {
		t.Fatalf("Floor(25): got %d/%v, want 20", p, ok)
	}
	if p, _ := s.Nearest(15); p != 10 {
		t.Fatalf("Nearest(15) tie: got %d, want 10", p)
	}
	if p, _ := s.Nearest(16); p != 20 {
		t.Fatalf("Nearest(16): got %d, want 20", p)
	}
	if !s.InRange(30) || s.InRange(31) {
		t.Fatalf("InRange bounds wrong")
	}
}

func TestShift(t *testing.T) {
	got := TimeSet{10, 20}.Shift(-5)
	if got[0] != 5 || got[1] != 15 {
		t.Fatalf("Shift: got %v", got)
	}
}
