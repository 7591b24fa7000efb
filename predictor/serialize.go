package predictor

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// file layout: "JRBOOST", version byte, predictor body, '!' trailer.
// bodies are tagged with one byte; counts and variable indices are
// base-128 varints; floats are IEEE-754 binary32 little-endian.
const fileFormatVersion = 8

var fileMagic = []byte("JRBOOST")

// ParseError reports a malformed predictor stream and the byte offset at
// which parsing failed.
type ParseError struct {
	Offset int64
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("not a valid predictor file: %s (at byte %d)", e.Msg, e.Offset)
}

//----------------------------------------------------------------------

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) bytes(p []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(p)
	}
}

func (w *writer) u8(v byte) { w.bytes([]byte{v}) }

func (w *writer) f32(v float32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	w.bytes(buf[:])
}

func (w *writer) varint(v uint64) {
	var buf [10]byte
	n := 0
	for v >= 0x80 {
		buf[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	buf[n] = byte(v)
	w.bytes(buf[:n+1])
}

//----------------------------------------------------------------------

type reader struct {
	r   io.Reader
	off int64
}

func (r *reader) fail(format string, args ...interface{}) error {
	return &ParseError{Offset: r.off, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) bytes(p []byte) error {
	n, err := io.ReadFull(r.r, p)
	r.off += int64(n)
	if err != nil {
		return r.fail("truncated stream")
	}
	return nil
}

func (r *reader) u8() (byte, error) {
	var buf [1]byte
	if err := r.bytes(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *reader) f32() (float32, error) {
	var buf [4]byte
	if err := r.bytes(buf[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[:])), nil
}

func (r *reader) varint() (uint64, error) {
	var v uint64
	var shift uint
	for n := 0; n < 10; n++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		if n == 9 && b > 1 {
			return 0, r.fail("varint overflows 64 bits")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, r.fail("varint longer than 10 bytes")
}

//----------------------------------------------------------------------

func save(w io.Writer, p Predictor) error {
	sw := &writer{w: w}
	sw.bytes(fileMagic)
	sw.u8(fileFormatVersion)
	p.save(sw)
	sw.u8('!')
	return sw.err
}

func (p *Boosted) Save(w io.Writer) error { return save(w, p) }

func (p *Boosted) save(sw *writer) {
	sw.u8('B')
	sw.f32(p.C0)
	sw.f32(p.C1)
	sw.varint(uint64(len(p.Bases)))
	for _, b := range p.Bases {
		b.save(sw)
	}
}

func (p *Ensemble) Save(w io.Writer) error { return save(w, p) }

func (p *Ensemble) save(sw *writer) {
	sw.u8('E')
	sw.varint(uint64(len(p.Members)))
	for _, m := range p.Members {
		m.save(sw)
	}
}

func (p *Union) Save(w io.Writer) error { return save(w, p) }

func (p *Union) save(sw *writer) {
	sw.u8('U')
	sw.varint(uint64(len(p.Members)))
	for _, m := range p.Members {
		m.save(sw)
	}
}

func (Zero) save(sw *writer) { sw.u8('Z') }

func (p Constant) save(sw *writer) {
	sw.u8('C')
	sw.f32(p.Y)
}

func (p Stump) save(sw *writer) {
	sw.u8('S')
	sw.varint(uint64(p.J))
	sw.f32(p.X)
	sw.f32(p.LeftY)
	sw.f32(p.RightY)
	sw.f32(p.Gain)
}

func (p Tree) save(sw *writer) {
	sw.u8('T')
	sw.varint(uint64(len(p.Nodes)))
	saveNode(sw, p.Nodes, 0)
}

func saveNode(sw *writer, nodes []Node, i int32) {
	n := nodes[i]
	if n.IsLeaf {
		sw.u8(1)
		sw.f32(n.Y)
		return
	}
	sw.u8(0)
	sw.varint(uint64(n.J))
	sw.f32(n.X)
	sw.f32(n.Gain)
	saveNode(sw, nodes, n.Left)
	saveNode(sw, nodes, n.Right)
}

func (p Forest) save(sw *writer) {
	sw.u8('F')
	sw.varint(uint64(len(p.Bases)))
	for _, b := range p.Bases {
		b.save(sw)
	}
}

//----------------------------------------------------------------------

// Load reads a predictor in the binary file format.
func Load(r io.Reader) (Predictor, error) {
	sr := &reader{r: r}

	magic := make([]byte, len(fileMagic))
	if err := sr.bytes(magic); err != nil {
		return nil, err
	}
	if string(magic) != string(fileMagic) {
		return nil, sr.fail("bad magic")
	}

	version, err := sr.u8()
	if err != nil {
		return nil, err
	}
	if version < fileFormatVersion {
		return nil, sr.fail("file format version %d is no longer supported", version)
	}
	if version > fileFormatVersion {
		return nil, sr.fail("reading this file requires a newer version of the library")
	}

	p, err := loadPredictor(sr)
	if err != nil {
		return nil, err
	}

	trailer, err := sr.u8()
	if err != nil {
		return nil, err
	}
	if trailer != '!' {
		return nil, sr.fail("missing trailer")
	}
	return p, nil
}

func loadPredictor(sr *reader) (Predictor, error) {
	tag, err := sr.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'B':
		c0, err := sr.f32()
		if err != nil {
			return nil, err
		}
		c1, err := sr.f32()
		if err != nil {
			return nil, err
		}
		n, err := sr.varint()
		if err != nil {
			return nil, err
		}
		var bases []BasePredictor
		for ; n != 0; n-- {
			b, err := loadBase(sr)
			if err != nil {
				return nil, err
			}
			bases = append(bases, b)
		}
		return NewBoosted(float64(c0), float64(c1), bases), nil
	case 'E', 'U':
		n, err := sr.varint()
		if err != nil {
			return nil, err
		}
		var members []Predictor
		for ; n != 0; n-- {
			m, err := loadPredictor(sr)
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		if tag == 'U' {
			return NewUnion(members), nil
		}
		e, err := NewEnsemble(members)
		if err != nil {
			return nil, sr.fail("empty ensemble")
		}
		return e, nil
	}
	return nil, sr.fail("unknown predictor tag 0x%02x", tag)
}

func loadBase(sr *reader) (BasePredictor, error) {
	tag, err := sr.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 'Z':
		return Zero{}, nil
	case 'C':
		y, err := sr.f32()
		if err != nil {
			return nil, err
		}
		return Constant{Y: y}, nil
	case 'S':
		j, err := sr.varint()
		if err != nil {
			return nil, err
		}
		if j > math.MaxInt32 {
			return nil, sr.fail("variable index %d out of range", j)
		}
		var f [4]float32
		for i := range f {
			if f[i], err = sr.f32(); err != nil {
				return nil, err
			}
		}
		return Stump{J: int(j), X: f[0], LeftY: f[1], RightY: f[2], Gain: f[3]}, nil
	case 'T':
		return loadTree(sr)
	case 'F':
		n, err := sr.varint()
		if err != nil {
			return nil, err
		}
		var bases []BasePredictor
		for ; n != 0; n-- {
			b, err := loadBase(sr)
			if err != nil {
				return nil, err
			}
			bases = append(bases, b)
		}
		return Forest{Bases: bases}, nil
	}
	return nil, sr.fail("unknown base predictor tag 0x%02x", tag)
}

func loadTree(sr *reader) (BasePredictor, error) {
	nodeCount, err := sr.varint()
	if err != nil {
		return nil, err
	}
	if nodeCount == 0 || nodeCount > math.MaxInt32 {
		return nil, sr.fail("bad node count %d", nodeCount)
	}
	nodes := make([]Node, 0, nodeCount)
	if _, err := loadNode(sr, &nodes, int(nodeCount)); err != nil {
		return nil, err
	}
	if len(nodes) != int(nodeCount) {
		return nil, sr.fail("node count mismatch: header says %d, stream has %d", nodeCount, len(nodes))
	}
	return Tree{Nodes: nodes}, nil
}

func loadNode(sr *reader, nodes *[]Node, nodeCount int) (int32, error) {
	if len(*nodes) >= nodeCount {
		return 0, sr.fail("node count mismatch: more than %d nodes in stream", nodeCount)
	}
	idx := int32(len(*nodes))
	*nodes = append(*nodes, Node{})

	isLeaf, err := sr.u8()
	if err != nil {
		return 0, err
	}
	switch isLeaf {
	case 1:
		y, err := sr.f32()
		if err != nil {
			return 0, err
		}
		(*nodes)[idx] = Node{IsLeaf: true, Y: y}
	case 0:
		j, err := sr.varint()
		if err != nil {
			return 0, err
		}
		if j > math.MaxInt32 {
			return 0, sr.fail("variable index %d out of range", j)
		}
		x, err := sr.f32()
		if err != nil {
			return 0, err
		}
		gain, err := sr.f32()
		if err != nil {
			return 0, err
		}
		left, err := loadNode(sr, nodes, nodeCount)
		if err != nil {
			return 0, err
		}
		right, err := loadNode(sr, nodes, nodeCount)
		if err != nil {
			return 0, err
		}
		(*nodes)[idx] = Node{J: int(j), X: x, Gain: gain, Left: left, Right: right}
	default:
		return 0, sr.fail("bad leaf marker 0x%02x", isLeaf)
	}
	return idx, nil
}
