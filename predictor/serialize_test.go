package predictor

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTree() BasePredictor {
	// depth-2 arena in depth-first order
	return Tree{Nodes: []Node{
		{J: 0, X: 0.5, Gain: 2.0, Left: 1, Right: 4},
		{J: 1, X: -1.25, Gain: 0.5, Left: 2, Right: 3},
		{IsLeaf: true, Y: -0.75},
		{IsLeaf: true, Y: 0.25},
		{IsLeaf: true, Y: 1.5},
	}}
}

func sampleBoosted() Predictor {
	bases := []BasePredictor{
		NewZero(),
		NewConstant(0.125),
		NewStump(2, 1.5, -1, 1, 0.25),
		sampleTree(),
		NewForest([]BasePredictor{NewConstant(1), NewStump(0, 0.5, -2, 2, 1)}),
	}
	return NewBoosted(-0.5, 0.2, bases)
}

func roundTrip(t *testing.T, p Predictor) (Predictor, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, p.Save(&buf))
	raw := buf.Bytes()

	loaded, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	return loaded, raw
}

func TestSaveLoadBoosted(t *testing.T) {
	p := sampleBoosted()
	loaded, raw := roundTrip(t, p)

	// re-serialization must be byte identical
	var buf2 bytes.Buffer
	require.NoError(t, loaded.Save(&buf2))
	require.Equal(t, raw, buf2.Bytes())

	row := []float32{0.25, -2.0, 3.0}
	want, err := p.PredictOne(row)
	require.NoError(t, err)
	got, err := loaded.PredictOne(row)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSaveLoadComposites(t *testing.T) {
	inner := sampleBoosted()
	ens, err := NewEnsemble([]Predictor{inner, inner})
	require.NoError(t, err)
	union := NewUnion([]Predictor{ens, inner})

	loaded, raw := roundTrip(t, union)

	var buf2 bytes.Buffer
	require.NoError(t, loaded.Save(&buf2))
	require.Equal(t, raw, buf2.Bytes())

	row := []float32{0.0, 0.0, 0.0}
	want, err := union.PredictOne(row)
	require.NoError(t, err)
	got, err := loaded.PredictOne(row)
	require.NoError(t, err)
	require.InDelta(t, want, got, 1e-12)
}

func TestFileHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleBoosted().Save(&buf))
	raw := buf.Bytes()

	require.Equal(t, []byte("JRBOOST"), raw[:7])
	require.Equal(t, byte(8), raw[7])
	require.Equal(t, byte('B'), raw[8])
	require.Equal(t, byte('!'), raw[len(raw)-1])
}

func corrupt(raw []byte, off int, b byte) []byte {
	bad := append([]byte(nil), raw...)
	bad[off] = b
	return bad
}

func TestLoadErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleBoosted().Save(&buf))
	raw := buf.Bytes()

	cases := map[string][]byte{
		"bad magic":       corrupt(raw, 0, 'X'),
		"old version":     corrupt(raw, 7, 7),
		"future version":  corrupt(raw, 7, 9),
		"unknown tag":     corrupt(raw, 8, 'Q'),
		"missing trailer": corrupt(raw, len(raw)-1, '?'),
		"truncated":       raw[:len(raw)-5],
	}
	for name, bad := range cases {
		_, err := Load(bytes.NewReader(bad))
		require.Error(t, err, name)
		var pe *ParseError
		require.ErrorAs(t, err, &pe, name)
		require.GreaterOrEqual(t, pe.Offset, int64(0), name)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 32, 1 << 63, math.MaxUint64}
	for _, v := range values {
		var buf bytes.Buffer
		w := &writer{w: &buf}
		w.varint(v)
		require.NoError(t, w.err)

		r := &reader{r: bytes.NewReader(buf.Bytes())}
		got, err := r.varint()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}

	// max value uses the full ten bytes
	var buf bytes.Buffer
	w := &writer{w: &buf}
	w.varint(math.MaxUint64)
	require.Equal(t, 10, buf.Len())
}

func TestVarintOverflow(t *testing.T) {
	// ten bytes whose final byte exceeds the single remaining bit
	tenByte := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}
	r := &reader{r: bytes.NewReader(tenByte)}
	_, err := r.varint()
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	// eleven-byte streams cannot happen: a tenth byte with the
	// continuation bit set is itself out of range
	elevenByte := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x81, 0x00}
	r = &reader{r: bytes.NewReader(elevenByte)}
	_, err = r.varint()
	require.ErrorAs(t, err, &pe)
}
