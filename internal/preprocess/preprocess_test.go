package preprocess

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAndResize_shape(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"landscape", 64, 32},
		{"portrait", 20, 50},
		{"square", 40, 40},
		{"upscale", 8, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "img.png")
			writePNG(t, path, tt.w, tt.h, color.RGBA{R: 200, G: 100, B: 50, A: 255})
			tensor, err := LoadAndResize(path, 16)
			if err != nil {
				t.Fatalf("LoadAndResize: %v", err)
			}
			want := []int64{1, 3, 16, 16}
			for i := range want {
				if tensor.Shape[i] != want[i] {
					t.Fatalf("shape = %v, want %v", tensor.Shape, want)
				}
			}
			if len(tensor.Data) != 3*16*16 {
				t.Errorf("len(data) = %d", len(tensor.Data))
			}
		})
	}
}

func TestLoadAndResize_normalizesChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "white.png")
	writePNG(t, path, 10, 10, color.White)
	tensor, err := LoadAndResize(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	plane := 16
	for c := 0; c < 3; c++ {
		want := (1 - mean[c]) / std[c]
		got := tensor.Data[c*plane]
		if diff := got - want; diff > 1e-3 || diff < -1e-3 {
			t.Errorf("channel %d = %f, want %f", c, got, want)
		}
	}
}

func TestLoadAndResize_corruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAndResize(path, 16); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadAndResize_missingFile(t *testing.T) {
	if _, err := LoadAndResize(filepath.Join(t.TempDir(), "missing.png"), 16); err == nil {
		t.Error("expected open error")
	}
}

func TestLoadAndResize_invalidSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 4, 4, color.Black)
	if _, err := LoadAndResize(path, 0); err == nil {
		t.Error("expected error for size 0")
	}
}
