package slidesource

import "testing"

func solidPix(w, h int, r, g, b, a byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		o := i * 4
		pix[o], pix[o+1], pix[o+2], pix[o+3] = r, g, b, a
	}
	return pix
}

func TestResampleReturnsInputUnchangedWhenAlreadyWithinMaxDim(t *testing.T) {
	pix := solidPix(100, 80, 10, 20, 30, 255)
	out, w, h := Resample(pix, 100, 80, 512)
	if w != 100 || h != 80 {
		t.Fatalf("size = %dx%d, want 100x80", w, h)
	}
	if &out[0] != &pix[0] {
		t.Error("expected the same underlying buffer to be returned when no resampling is needed")
	}
}

func TestResampleScalesDownPreservingAspectRatio(t *testing.T) {
	pix := solidPix(2000, 1000, 5, 5, 5, 255)
	out, w, h := Resample(pix, 2000, 1000, 500)
	if w != 500 {
		t.Errorf("w = %d, want 500 (the longer side clamped to maxDim)", w)
	}
	if h != 250 {
		t.Errorf("h = %d, want 250 (aspect ratio preserved)", h)
	}
	if len(out) != w*h*4 {
		t.Errorf("output length = %d, want %d", len(out), w*h*4)
	}
}

func TestResampleOfSolidColorStaysSolid(t *testing.T) {
	pix := solidPix(64, 64, 200, 100, 50, 255)
	out, w, h := Resample(pix, 64, 64, 16)
	if w != 16 || h != 16 {
		t.Fatalf("size = %dx%d, want 16x16", w, h)
	}
	for i := 0; i < w*h; i++ {
		o := i * 4
		if out[o] != 200 || out[o+1] != 100 || out[o+2] != 50 {
			t.Fatalf("pixel %d = %v, want [200 100 50 *]", i, out[o:o+4])
		}
	}
}

func TestResampleRejectsInvalidInput(t *testing.T) {
	if out, w, h := Resample(nil, 0, 0, 512); out != nil || w != 0 || h != 0 {
		t.Error("expected zero value for empty input")
	}
	if out, _, _ := Resample(make([]byte, 4), 10, 10, 512); out != nil {
		t.Error("expected nil when the buffer is too short for the claimed dimensions")
	}
}
