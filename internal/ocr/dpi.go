package ocr

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	pointsPerInch = 72.0
	defaultDPI    = 72.0
)

// readDPI returns the resolution stored in a PNG pHYs chunk or a JPEG JFIF
// header.
func readDPI(data []byte) (x, y float64, ok bool) {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return pngDPI(data)
	case len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8:
		return jfifDPI(data)
	}
	return 0, 0, false
}

func pngDPI(data []byte) (float64, float64, bool) {
	i := 8
	for i+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i:]))
		kind := string(data[i+4 : i+8])
		if length < 0 || i+8+length > len(data) {
			return 0, 0, false
		}
		body := data[i+8 : i+8+length]
		switch kind {
		case "pHYs":
			if len(body) < 9 || body[8] != 1 {
				return 0, 0, false
			}
			// pixels per meter
			x := float64(binary.BigEndian.Uint32(body)) * 0.0254
			y := float64(binary.BigEndian.Uint32(body[4:])) * 0.0254
			return math.Round(x), math.Round(y), x > 0 && y > 0
		case "IDAT", "IEND":
			return 0, 0, false
		}
		i += 12 + length
	}
	return 0, 0, false
}

func jfifDPI(data []byte) (float64, float64, bool) {
	if len(data) < 18 || data[2] != 0xFF || data[3] != 0xE0 || string(data[6:11]) != "JFIF\x00" {
		return 0, 0, false
	}
	units := data[13]
	x := float64(binary.BigEndian.Uint16(data[14:]))
	y := float64(binary.BigEndian.Uint16(data[16:]))
	switch units {
	case 1:
	case 2:
		x, y = math.Round(x*2.54), math.Round(y*2.54)
	default:
		return 0, 0, false
	}
	return x, y, x > 0 && y > 0
}

// calculateOptimalDPI returns the highest DPI not above target that keeps a
// page of the given size in points within maxDimension pixels, clamped to
// [minDPI, maxDPI].
func calculateOptimalDPI(pageWidth, pageHeight float64, target, maxDimension, minDPI, maxDPI int) int {
	widthIn := pageWidth / pointsPerInch
	heightIn := pageHeight / pointsPerInch

	maxPixels := max(int(widthIn*float64(target)), int(heightIn*float64(target)))
	if maxPixels <= maxDimension {
		return max(minDPI, min(target, maxDPI))
	}

	forWidth, forHeight := float64(maxDPI), float64(maxDPI)
	if widthIn > 0 {
		forWidth = float64(maxDimension) / widthIn
	}
	if heightIn > 0 {
		forHeight = float64(maxDimension) / heightIn
	}
	constrained := int(math.Min(forWidth, forHeight))
	return max(minDPI, min(constrained, maxDPI))
}

// normalizeDPI rescales img from its recorded DPI towards target, never past
// cfg.MaxImageDimension on either side.
func normalizeDPI(img *image.Gray, original [2]float64, target int, cfg *config.ImageExtractionConfig) (*image.Gray, *types.ImagePreprocessingMetadata) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	current := original[0]
	meta := &types.ImagePreprocessingMetadata{
		OriginalDimensions: [2]int{w, h},
		OriginalDPI:        original,
		TargetDPI:          target,
		ScaleFactor:        1.0,
		FinalDPI:           target,
	}

	if !cfg.AutoAdjustDPI && math.Abs(current-float64(target)) < 1.0 && max(w, h) <= cfg.MaxImageDimension {
		meta.SkippedResize = true
		return img, meta
	}

	finalDPI := target
	if cfg.AutoAdjustDPI {
		optimal := calculateOptimalDPI(
			float64(w)*pointsPerInch/current,
			float64(h)*pointsPerInch/current,
			target, cfg.MaxImageDimension, cfg.MinDPI, cfg.MaxDPI,
		)
		meta.CalculatedDPI = types.IntPtr(optimal)
		meta.AutoAdjusted = optimal != target
		finalDPI = optimal
	}
	meta.FinalDPI = finalDPI

	scale := float64(finalDPI) / current
	meta.ScaleFactor = scale
	if math.Abs(scale-1.0) < 0.05 {
		meta.SkippedResize = true
		return img, meta
	}

	newW, newH := int(float64(w)*scale), int(float64(h)*scale)
	if m := max(newW, newH); m > cfg.MaxImageDimension {
		clamp := float64(cfg.MaxImageDimension) / float64(m)
		newW, newH = int(float64(newW)*clamp), int(float64(newH)*clamp)
		meta.ScaleFactor = scale * clamp
		meta.DimensionClamped = true
	}
	newW, newH = max(newW, 1), max(newH, 1)

	var kernel draw.Interpolator = draw.BiLinear
	meta.ResampleMethod = "bilinear"
	if meta.ScaleFactor < 1.0 {
		kernel = draw.CatmullRom
		meta.ResampleMethod = "catmull-rom"
	}
	dst := image.NewGray(image.Rect(0, 0, newW, newH))
	kernel.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	meta.NewDimensions = &[2]int{newW, newH}
	return dst, meta
}
