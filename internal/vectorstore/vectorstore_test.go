package vectorstore

import (
	"bytes"
	"math"
	"testing"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestAddGetRemove(t *testing.T) {
	s := New(4)
	id := s.Add(unit(4, 0))
	if got := s.Get(id); got == nil || got[0] != 1 {
		t.Fatalf("Get(%d) = %v, want [1 0 0 0]", id, got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	s.Remove(id)
	if s.Get(id) != nil {
		t.Fatalf("Get after Remove should be nil, got %v", s.Get(id))
	}
	if s.Len() != 0 {
		t.Fatalf("Len() after Remove = %d, want 0", s.Len())
	}
}

func TestRemovedIDsAreReused(t *testing.T) {
	s := New(4)
	a := s.Add(unit(4, 0))
	s.Remove(a)
	b := s.Add(unit(4, 1))
	if b != a {
		t.Errorf("expected freed id %d to be reused, got %d", a, b)
	}
}

func TestStageDoesNotCollideWithPermanentIDs(t *testing.T) {
	s := New(4)
	var last uint32
	for i := 0; i < 100; i++ {
		last = s.Add(unit(4, i%4))
	}
	qid := s.Stage(unit(4, 0))
	if qid <= last {
		t.Errorf("staged id %d should not collide with permanent id range (last=%d)", qid, last)
	}
	if s.Len() != 100 {
		t.Errorf("Stage should not count toward Len(): got %d, want 100", s.Len())
	}
	s.Unstage(qid)
	if s.Get(qid) != nil {
		t.Error("Get after Unstage should be nil")
	}
}

func TestCosineDistance(t *testing.T) {
	a := unit(4, 0)
	b := unit(4, 0)
	c := unit(4, 1)
	if d := CosineDistance(a, b); math.Abs(d) > 1e-9 {
		t.Errorf("identical vectors: distance = %v, want ~0", d)
	}
	if d := CosineDistance(a, c); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors: distance = %v, want ~1", d)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(4)
	ids := make([]uint32, 5)
	for i := range ids {
		ids[i] = s.Add(unit(4, i%4))
	}

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(0)
	if err := loaded.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Dim() != 4 {
		t.Errorf("Dim() after Load = %d, want 4", loaded.Dim())
	}
	if loaded.Len() != len(ids) {
		t.Fatalf("Len() after Load = %d, want %d", loaded.Len(), len(ids))
	}
	for i, id := range ids {
		got := loaded.Get(id)
		want := unit(4, i%4)
		for d := range want {
			if got[d] != want[d] {
				t.Errorf("id %d dim %d: got %v, want %v", id, d, got[d], want[d])
			}
		}
	}
}
