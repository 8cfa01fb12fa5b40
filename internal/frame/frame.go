package frame

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
)

// Frame is one immutable camera snapshot. Consumers must not write to Image.
type Frame struct {
	Seq        uint64
	Image      *image.RGBA
	CapturedAt time.Time
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Rect.Empty()
}

// ToRGBA returns img as an *image.RGBA anchored at the origin, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// Mirror returns a horizontally flipped copy of src.
func Mirror(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+w*4]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			copy(drow[(w-1-x)*4:(w-x)*4], srow[x*4:x*4+4])
		}
	}
	return dst
}

// Downscale resizes src by factor using bilinear sampling. A factor of 1 or more returns src.
func Downscale(src *image.RGBA, factor float64) *image.RGBA {
	if factor >= 1 {
		return src
	}
	w := max(1, int(float64(src.Rect.Dx())*factor))
	h := max(1, int(float64(src.Rect.Dy())*factor))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst
}

// MeanLuma is the average Rec.601 luma of img in [0,255], sampled on a stride
// so large frames stay cheap.
func MeanLuma(img *image.RGBA) float64 {
	b := img.Rect
	if b.Empty() {
		return 0
	}
	step := max(1, min(b.Dx(), b.Dy())/64)
	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := img.RGBAAt(x, y)
			sum += float64(color.GrayModel.Convert(c).(color.Gray).Y)
			n++
		}
	}
	return sum / float64(n)
}

// Crop returns the part of img covered by box grown by margin on every side.
// An empty box selects the whole image.
func Crop(img *image.RGBA, box image.Rectangle, margin float64) image.Image {
	if box.Empty() {
		return img
	}
	mx := int(float64(box.Dx()) * margin)
	my := int(float64(box.Dy()) * margin)
	r := image.Rect(box.Min.X-mx, box.Min.Y-my, box.Max.X+mx, box.Max.Y+my).Intersect(img.Rect)
	return img.SubImage(r)
}
