// Package preprocess turns image files into normalized model input tensors.
package preprocess

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
)

// ImageNet channel statistics used by the DINOv2 family.
var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// LoadAndResize decodes the image at path, resizes its short side to size, center-crops it to
// size x size and returns a (1, 3, size, size) tensor normalized with ImageNet statistics.
// Returns an error for unreadable or undecodable files.
func LoadAndResize(path string, size int) (*Tensor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img, size)
}

// FromImage converts a decoded image to a model input tensor. See LoadAndResize.
func FromImage(img image.Image, size int) (*Tensor, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}
	resized := resizeShortSide(img, uint(size))
	rb := resized.Bounds()
	if rb.Dx() < size || rb.Dy() < size {
		return nil, fmt.Errorf("resized image %dx%d smaller than %d", rb.Dx(), rb.Dy(), size)
	}
	x0 := rb.Min.X + (rb.Dx()-size)/2
	y0 := rb.Min.Y + (rb.Dy()-size)/2

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(x0+x, y0+y).RGBA()
			i := y*size + x
			data[i] = (float32(r)/0xffff - mean[0]) / std[0]
			data[plane+i] = (float32(g)/0xffff - mean[1]) / std[1]
			data[2*plane+i] = (float32(bl)/0xffff - mean[2]) / std[2]
		}
	}
	return &Tensor{
		Shape: []int64{1, 3, int64(size), int64(size)},
		Data:  data,
	}, nil
}

// resizeShortSide scales img so that its shorter side equals size, keeping the aspect ratio.
func resizeShortSide(img image.Image, size uint) image.Image {
	b := img.Bounds()
	if b.Dx() <= b.Dy() {
		return resize.Resize(size, 0, img, resize.Bilinear)
	}
	return resize.Resize(0, size, img, resize.Bilinear)
}
