package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func createTestJPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func createTestPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestProcessPNGBecomesJPEG(t *testing.T) {
	photo, err := NewProcessor(0).Process(bytes.NewReader(createTestPNG(100, 60)))
	if err != nil {
		t.Fatalf("Process PNG: %v", err)
	}
	if photo.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", photo.MIME)
	}
	if photo.Width != 100 || photo.Height != 60 {
		t.Errorf("expected 100x60, got %dx%d", photo.Width, photo.Height)
	}
}

func TestProcessFitsWithinMaxDimension(t *testing.T) {
	photo, err := NewProcessor(200).Process(bytes.NewReader(createTestJPEG(1000, 500)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(photo.Data))
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("expected 200x100, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestProcessSmallImageNotUpscaled(t *testing.T) {
	photo, err := NewProcessor(800).Process(bytes.NewReader(createTestJPEG(50, 50)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if photo.Width != 50 || photo.Height != 50 {
		t.Errorf("small image should not be resized: got %dx%d", photo.Width, photo.Height)
	}
}

func TestProcessRejectsOtherFormats(t *testing.T) {
	for name, data := range map[string][]byte{
		"text": []byte("not an image"),
		"gif":  []byte("GIF89a..."),
	} {
		_, err := NewProcessor(0).Process(bytes.NewReader(data))
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: expected ErrUnsupported, got %v", name, err)
		}
	}
}

func TestProcessRejectsOversizedUpload(t *testing.T) {
	p := &Processor{MaxBytes: 16}
	_, err := p.Process(bytes.NewReader(createTestJPEG(20, 20)))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
