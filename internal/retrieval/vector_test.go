package retrieval

import (
	"math"
	"testing"
)

func TestFloat32CodecRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.14159, -2.71828, float32(math.MaxFloat32)}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d != %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, in[i], out[i])
		}
	}
}

func TestDecodeFloat32sRejectsBadLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not a multiple of 4")
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("expected error for blob length not a multiple of 4")
	}
}

func TestDecodeFloat32sIntoReusesBuffer(t *testing.T) {
	blob := encodeFloat32s([]float32{1, 2, 3, 4})
	buf := make([]float32, 0, 8)

	out, err := decodeFloat32sInto(buf, blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if &out[0] != &buf[:1][0] {
		t.Error("expected the provided buffer to be reused")
	}
	if out[3] != 4 {
		t.Errorf("out = %v", out)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
	}
	for _, tc := range cases {
		got := CosineSimilarity(tc.a, tc.b)
		if math.Abs(float64(got-tc.want)) > 1e-6 {
			t.Errorf("%s: CosineSimilarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2}
	b := []float32{0.1, 0.9, -0.4}
	scaled := make([]float32, len(b))
	for i, f := range b {
		scaled[i] = f * 10
	}
	if d := CosineSimilarity(a, b) - CosineSimilarity(a, scaled); math.Abs(float64(d)) > 1e-6 {
		t.Errorf("similarity changed under scaling: delta %v", d)
	}
}
