package compress

import "testing"

func TestCompressDecompressRoundTrip(t *testing.T) {
	var w Writer
	var r Reader

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated, the quick brown fox jumps over the lazy dog")
	frame, err := w.Compress(payload)
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Decompress(frame, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(payload) {
		t.Fatalf("got %q want %q", out, payload)
	}

	// Reuse after Release to confirm lazily-reallocated state still works.
	w.Release()
	r.Release()
	frame2, err := w.Compress(payload)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := r.Decompress(frame2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(out2) != string(payload) {
		t.Fatalf("got %q want %q", out2, payload)
	}
}
