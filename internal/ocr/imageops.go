package ocr

import (
	"image"
	"image/draw"
	"math"
)

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// orient undoes an EXIF orientation and reports the clockwise rotation applied.
func orient(g *image.Gray, o int) (*image.Gray, int) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	var (
		dw, dh = w, h
		src    func(x, y int) (int, int)
		deg    int
	)
	switch o {
	case 2:
		src = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3:
		src, deg = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }, 180
	case 4:
		src = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5:
		dw, dh = h, w
		src, deg = func(x, y int) (int, int) { return y, x }, 90
	case 6:
		dw, dh = h, w
		src, deg = func(x, y int) (int, int) { return y, h - 1 - x }, 90
	case 7:
		dw, dh = h, w
		src, deg = func(x, y int) (int, int) { return w - 1 - y, h - 1 - x }, 270
	case 8:
		dw, dh = h, w
		src, deg = func(x, y int) (int, int) { return w - 1 - y, x }, 270
	default:
		return g, 0
	}
	out := image.NewGray(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			sx, sy := src(x, y)
			out.Pix[y*out.Stride+x] = g.Pix[sy*g.Stride+sx]
		}
	}
	return out, deg
}

// detectSkew searches ±maxDeg for the angle whose horizontal projection of
// dark pixels is sharpest.
func detectSkew(g *image.Gray, maxDeg, step float64) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	threshold := otsuThreshold(g)

	// sample large pages
	stride := 1
	for (w/stride)*(h/stride) > 1_000_000 {
		stride++
	}
	type pt struct{ x, y float64 }
	var dark []pt
	for y := 0; y < h; y += stride {
		for x := 0; x < w; x += stride {
			if g.Pix[y*g.Stride+x] < threshold {
				dark = append(dark, pt{float64(x), float64(y)})
			}
		}
	}
	if len(dark) < 10 {
		return 0
	}

	diag := int(math.Hypot(float64(w), float64(h))) + 2
	bins := make([]int, 2*diag)
	best, bestScore := 0.0, -1.0
	for a := -maxDeg; a <= maxDeg+1e-9; a += step {
		for i := range bins {
			bins[i] = 0
		}
		sin, cos := math.Sincos(a * math.Pi / 180)
		for _, p := range dark {
			r := int(math.Round(p.y*cos-p.x*sin)) + diag
			if r >= 0 && r < len(bins) {
				bins[r]++
			}
		}
		var score float64
		for i := 1; i < len(bins); i++ {
			d := float64(bins[i] - bins[i-1])
			score += d * d
		}
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	return math.Round(best*100) / 100
}

// rotate maps every output pixel through the same transform detectSkew scored,
// about the image center. Uncovered pixels are white.
func rotate(g *image.Gray, deg float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	sin, cos := math.Sincos(deg * math.Pi / 180)
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u, v := float64(x)-cx, float64(y)-cy
			sx := int(math.Round(u*cos - v*sin + cx))
			sy := int(math.Round(u*sin + v*cos + cy))
			c := uint8(255)
			if sx >= 0 && sx < w && sy >= 0 && sy < h {
				c = g.Pix[sy*g.Stride+sx]
			}
			out.Pix[y*out.Stride+x] = c
		}
	}
	return out
}

func medianFilter(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(g.Rect)
	var win [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sx, sy := clampInt(x+dx, 0, w-1), clampInt(y+dy, 0, h-1)
					win[n] = g.Pix[sy*g.Stride+sx]
					n++
				}
			}
			for i := 1; i < len(win); i++ {
				for j := i; j > 0 && win[j] < win[j-1]; j-- {
					win[j], win[j-1] = win[j-1], win[j]
				}
			}
			out.Pix[y*out.Stride+x] = win[4]
		}
	}
	return out
}

// stretchContrast maps the 1st..99th percentile range onto 0..255.
func stretchContrast(g *image.Gray) *image.Gray {
	hist := histogram(g)
	total := len(g.Pix)
	lo, hi := percentile(hist, total, 0.01), percentile(hist, total, 0.99)
	if hi <= lo {
		return g
	}
	out := image.NewGray(g.Rect)
	scale := 255.0 / float64(hi-lo)
	for i, p := range g.Pix {
		v := (float64(p) - float64(lo)) * scale
		out.Pix[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	return out
}

func binarizeGlobal(g *image.Gray, threshold uint8) *image.Gray {
	out := image.NewGray(g.Rect)
	for i, p := range g.Pix {
		if p >= threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

func otsuThreshold(g *image.Gray) uint8 {
	hist := histogram(g)
	total := float64(len(g.Pix))
	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}
	var sumB, wB, best float64
	threshold := 128
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best, threshold = between, t+1
		}
	}
	return uint8(min(threshold, 255))
}

// binarizeLocal thresholds each pixel against its window statistics. sauvola
// uses mean*(1+k*(std/128-1)); adaptive uses mean-c.
func binarizeLocal(g *image.Gray, radius int, sauvola bool) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	sum, sq := integralImages(g)
	out := image.NewGray(g.Rect)
	const k, c = 0.2, 10.0
	for y := 0; y < h; y++ {
		y0, y1 := max(y-radius, 0), min(y+radius+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-radius, 0), min(x+radius+1, w)
			n := float64((x1 - x0) * (y1 - y0))
			s := rectSum(sum, w+1, x0, y0, x1, y1)
			mean := s / n
			var t float64
			if sauvola {
				v := rectSum(sq, w+1, x0, y0, x1, y1)/n - mean*mean
				t = mean * (1 + k*(math.Sqrt(math.Max(v, 0))/128-1))
			} else {
				t = mean - c
			}
			if float64(g.Pix[y*g.Stride+x]) > t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func integralImages(g *image.Gray) (sum, sq []float64) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	sum = make([]float64, (w+1)*(h+1))
	sq = make([]float64, (w+1)*(h+1))
	for y := 1; y <= h; y++ {
		var rs, rq float64
		for x := 1; x <= w; x++ {
			p := float64(g.Pix[(y-1)*g.Stride+x-1])
			rs += p
			rq += p * p
			sum[y*(w+1)+x] = sum[(y-1)*(w+1)+x] + rs
			sq[y*(w+1)+x] = sq[(y-1)*(w+1)+x] + rq
		}
	}
	return sum, sq
}

func rectSum(ii []float64, stride, x0, y0, x1, y1 int) float64 {
	return ii[y1*stride+x1] - ii[y0*stride+x1] - ii[y1*stride+x0] + ii[y0*stride+x0]
}

func invert(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Rect)
	for i, p := range g.Pix {
		out.Pix[i] = 255 - p
	}
	return out
}

func histogram(g *image.Gray) [256]int {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	return hist
}

func percentile(hist [256]int, total int, q float64) int {
	target := int(float64(total) * q)
	acc := 0
	for i, c := range hist {
		acc += c
		if acc > target {
			return i
		}
	}
	return 255
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
