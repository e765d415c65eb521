package nsw

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies a serialized nsw graph. format mirrors the teacher's
// binary layout (fixed header, then per-node records) generalized to an
// arbitrary value type: value (de)serialization is delegated to the
// caller, per spec §6 "value serialization delegated to the caller."
var magic = [4]byte{'N', 'S', 'W', '1'}

const formatVersion = uint16(1)

// Encode turns a value into bytes for storage. Decode is its inverse.
type Encode[T comparable] func(T) ([]byte, error)
type Decode[T comparable] func([]byte) (T, error)

// Save writes the graph — nodes, edges (with cached distances), and
// config — to w. Scratch containers are never persisted; they are rebuilt
// lazily on first use after Load.
func (ix *Index[T]) Save(w io.Writer, encode Encode[T]) error {
	bw := &binaryWriter{w: w}

	bw.write(magic)
	bw.writeU16(formatVersion)
	bw.writeU32(uint32(ix.Size()))
	bw.writeU32(uint32(ix.neighbourhoodSize))
	bw.writeU32(uint32(ix.searchSetSize))
	bw.writeI32(int32(ix.searchMaxSteps))
	bw.writeF64(ix.adaptiveStepFactor)
	bw.writeI32(int32(ix.numEntryPoints))
	bw.writeF64(ix.constructionFactor)
	bw.writeF64(ix.pruningAlpha)

	for _, value := range ix.nodeSlots {
		n := ix.nodes[value]
		b, err := encode(value)
		if err != nil {
			return fmt.Errorf("nsw: encode value: %w", err)
		}
		bw.writeBytes(b)
		bw.writeU32(uint32(len(n.neighbors)))
		for nb, d := range n.neighbors {
			nbBytes, err := encode(nb)
			if err != nil {
				return fmt.Errorf("nsw: encode neighbor value: %w", err)
			}
			bw.writeBytes(nbBytes)
			bw.writeF64(d)
		}
	}

	return bw.err
}

// Load reads a graph previously written by Save. dist is the distance
// function to attach to the restored index; it need not match the
// function used when the graph was built, but typically should.
func Load[T comparable](r io.Reader, decode Decode[T], dist DistanceFunc[T]) (*Index[T], error) {
	br := &binaryReader{r: r}

	var got [4]byte
	br.read(&got)
	if got != magic {
		return nil, fmt.Errorf("nsw: bad magic bytes — not an nsw graph file")
	}
	version := br.readU16()
	if version != formatVersion {
		return nil, fmt.Errorf("nsw: unsupported format version %d (want %d)", version, formatVersion)
	}

	count := br.readU32()
	m := br.readU32()
	ef := br.readU32()
	maxSteps := br.readI32()
	adaptiveFactor := br.readF64()
	numEntry := br.readI32()
	constructionFactor := br.readF64()
	alpha := br.readF64()
	if br.err != nil {
		return nil, fmt.Errorf("nsw: read header: %w", br.err)
	}

	ix := New(dist)
	ix.neighbourhoodSize = int(m)
	ix.searchSetSize = int(ef)
	ix.searchMaxSteps = int(maxSteps)
	ix.adaptiveStepFactor = adaptiveFactor
	ix.numEntryPoints = int(numEntry)
	ix.constructionFactor = constructionFactor
	ix.pruningAlpha = alpha

	type rawEdge struct {
		to   []byte
		dist float64
	}
	rawNodes := make([][]byte, count)
	rawEdges := make([][]rawEdge, count)

	for i := uint32(0); i < count; i++ {
		valBytes := br.readBytes()
		nbCount := br.readU32()
		edges := make([]rawEdge, nbCount)
		for j := uint32(0); j < nbCount; j++ {
			nbBytes := br.readBytes()
			d := br.readF64()
			edges[j] = rawEdge{to: nbBytes, dist: d}
		}
		rawNodes[i] = valBytes
		rawEdges[i] = edges
	}
	if br.err != nil {
		return nil, fmt.Errorf("nsw: read nodes: %w", br.err)
	}

	values := make([]T, count)
	for i, b := range rawNodes {
		v, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("nsw: decode value: %w", err)
		}
		values[i] = v
		ix.insertSlot(v, &node[T]{value: v, neighbors: make(map[T]float64)})
	}
	for i, edges := range rawEdges {
		n := ix.nodes[values[i]]
		for _, e := range edges {
			nb, err := decode(e.to)
			if err != nil {
				return nil, fmt.Errorf("nsw: decode neighbor value: %w", err)
			}
			n.neighbors[nb] = e.dist
		}
	}
	ix.started = ix.Size() > 0

	return ix, nil
}

type binaryWriter struct {
	w   io.Writer
	err error
}

func (bw *binaryWriter) write(v interface{}) {
	if bw.err != nil {
		return
	}
	bw.err = binary.Write(bw.w, binary.LittleEndian, v)
}
func (bw *binaryWriter) writeU16(v uint16) { bw.write(v) }
func (bw *binaryWriter) writeU32(v uint32) { bw.write(v) }
func (bw *binaryWriter) writeI32(v int32)  { bw.write(v) }
func (bw *binaryWriter) writeF64(v float64) { bw.write(v) }
func (bw *binaryWriter) writeBytes(b []byte) {
	bw.writeU32(uint32(len(b)))
	bw.write(b)
}

type binaryReader struct {
	r   io.Reader
	err error
}

func (br *binaryReader) read(v interface{}) {
	if br.err != nil {
		return
	}
	br.err = binary.Read(br.r, binary.LittleEndian, v)
}
func (br *binaryReader) readU16() uint16 {
	var v uint16
	br.read(&v)
	return v
}
func (br *binaryReader) readU32() uint32 {
	var v uint32
	br.read(&v)
	return v
}
func (br *binaryReader) readI32() int32 {
	var v int32
	br.read(&v)
	return v
}
func (br *binaryReader) readF64() float64 {
	var v float64
	br.read(&v)
	return v
}
func (br *binaryReader) readBytes() []byte {
	n := br.readU32()
	if br.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	br.read(b)
	return b
}
