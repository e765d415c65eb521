// Package vectorstore holds the flat float32 vectors backing the graph in
// internal/index, addressed by the same uint32 id the nsw graph uses as its
// value type. It mirrors the teacher's original vectors.bin layout, split
// out of the graph package itself now that the graph (internal/nsw) is
// value-type-agnostic and stores ids, not vectors.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// stagingBase is the first id handed out by Stage. Permanent ids from Add
// start at 0 and grow upward; a real index would need billions of chunks to
// reach this, so staged query vectors never collide with stored ones.
const stagingBase = uint32(1) << 31

// Store holds fixed-dimension float32 vectors keyed by id.
type Store struct {
	mu      sync.RWMutex
	dim     int
	vectors map[uint32][]float32

	nextID  uint32
	freedID []uint32 // reusable permanent ids, from Remove

	nextStaging  uint32
	freedStaging []uint32
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) *Store {
	return &Store{
		dim:         dim,
		vectors:     make(map[uint32][]float32),
		nextStaging: stagingBase,
	}
}

// Dim returns the configured vector dimension.
func (s *Store) Dim() int { return s.dim }

// Add stores vec under a freshly allocated permanent id and returns it.
func (s *Store) Add(vec []float32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id uint32
	if n := len(s.freedID); n > 0 {
		id = s.freedID[n-1]
		s.freedID = s.freedID[:n-1]
	} else {
		id = s.nextID
		s.nextID++
	}
	s.vectors[id] = vec
	return id
}

// Remove deletes a permanent id, freeing it for reuse.
func (s *Store) Remove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vectors[id]; !ok {
		return
	}
	delete(s.vectors, id)
	s.freedID = append(s.freedID, id)
}

// Stage stores a transient vector — typically a query embedding — under an
// id carved from a disjoint range, and returns it. Call Unstage when done.
func (s *Store) Stage(vec []float32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id uint32
	if n := len(s.freedStaging); n > 0 {
		id = s.freedStaging[n-1]
		s.freedStaging = s.freedStaging[:n-1]
	} else {
		id = s.nextStaging
		s.nextStaging++
	}
	s.vectors[id] = vec
	return id
}

// Unstage releases a transient id obtained from Stage.
func (s *Store) Unstage(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, id)
	s.freedStaging = append(s.freedStaging, id)
}

// Get returns the vector for id, or nil if absent.
func (s *Store) Get(id uint32) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors[id]
}

// Len returns the number of permanent vectors (staged vectors don't count).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.vectors {
		if id < stagingBase {
			n++
		}
	}
	return n
}

var magic = [4]byte{'D', 'V', 'E', 'C'}

// Save writes every permanent vector to w in a fixed binary layout.
func (s *Store) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(s.dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(s.Len())); err != nil {
		return err
	}
	for id, vec := range s.vectors {
		if id >= stagingBase {
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the store's contents with vectors read from r.
func (s *Store) Load(r io.Reader) error {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return fmt.Errorf("vectorstore: read magic: %w", err)
	}
	if got != magic {
		return fmt.Errorf("vectorstore: bad magic bytes — not a vectors file")
	}
	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("vectorstore: read dim: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("vectorstore: read count: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = int(dim)
	s.vectors = make(map[uint32][]float32, count)
	s.nextID = 0
	s.freedID = nil

	for i := uint32(0); i < count; i++ {
		var id uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("vectorstore: read id: %w", err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("vectorstore: read vector: %w", err)
		}
		s.vectors[id] = vec
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return nil
}

// CosineDistance treats a and b as L2-normalized vectors and returns
// 1-dot(a,b): 0 for identical direction, 2 for opposite.
func CosineDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}
