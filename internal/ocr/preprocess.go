package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	maxSkewDegrees  = 5.0
	skewStepDegrees = 0.25
	localWindow     = 7
)

// Preprocess prepares an image for OCR and returns it as PNG. pre toggles the
// enhancement steps (nil disables them); dpi drives resolution normalization
// (nil uses the defaults). A failing step is skipped and recorded in the
// metadata; only an undecodable image is an error.
func Preprocess(data []byte, pre *config.ImagePreprocessingConfig, dpi *config.ImageExtractionConfig) ([]byte, *types.ImagePreprocessingMetadata, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperrors.NewImageProcessingError("failed to decode image", err)
	}
	if dpi == nil {
		dpi = config.DefaultImageExtraction()
	}

	p := &preprocessor{img: toGray(img)}
	original := [2]float64{defaultDPI, defaultDPI}
	if x, y, ok := readDPI(data); ok {
		original = [2]float64{x, y}
	}
	target := dpi.TargetDPI
	if pre != nil && pre.TargetDPI > 0 {
		target = pre.TargetDPI
	}
	p.meta = &types.ImagePreprocessingMetadata{
		OriginalDimensions: [2]int{p.img.Rect.Dx(), p.img.Rect.Dy()},
		OriginalDPI:        original,
		TargetDPI:          target,
		ScaleFactor:        1.0,
		FinalDPI:           target,
		SkippedResize:      true,
	}

	if pre != nil && pre.AutoRotate {
		if o := exifOrientation(data); o != 1 {
			p.step("auto_rotate", func(g *image.Gray) (*image.Gray, error) {
				out, deg := orient(g, o)
				p.meta.RotationDegrees = deg
				return out, nil
			})
		}
	}
	if pre != nil && pre.Deskew {
		p.step("deskew", func(g *image.Gray) (*image.Gray, error) {
			angle := detectSkew(g, maxSkewDegrees, skewStepDegrees)
			p.meta.SkewAngle = angle
			if angle == 0 {
				return g, nil
			}
			return rotate(g, angle), nil
		})
	}

	p.step("dpi_normalization", func(g *image.Gray) (*image.Gray, error) {
		before := *p.meta
		out, m := normalizeDPI(g, original, target, dpi)
		// keep what earlier steps recorded
		m.OriginalDimensions = before.OriginalDimensions
		m.StepsApplied = before.StepsApplied
		m.StepErrors = before.StepErrors
		m.RotationDegrees = before.RotationDegrees
		m.SkewAngle = before.SkewAngle
		*p.meta = *m
		return out, nil
	})
	if msg := p.meta.StepErrors["dpi_normalization"]; msg != "" {
		p.meta.ResizeError = msg
	}

	if pre != nil {
		if pre.Denoise {
			p.step("denoise", func(g *image.Gray) (*image.Gray, error) { return medianFilter(g), nil })
		}
		if pre.ContrastEnhance {
			p.step("contrast_enhance", func(g *image.Gray) (*image.Gray, error) { return stretchContrast(g), nil })
		}
		if method := pre.BinarizationMethod; method != "" && method != "none" {
			p.step("binarize", func(g *image.Gray) (*image.Gray, error) {
				switch method {
				case "otsu":
					return binarizeGlobal(g, otsuThreshold(g)), nil
				case "sauvola":
					return binarizeLocal(g, localWindow, true), nil
				case "adaptive":
					return binarizeLocal(g, localWindow, false), nil
				}
				return nil, fmt.Errorf("unknown binarization method %q", method)
			})
			if p.meta.StepErrors["binarize"] == "" {
				p.meta.BinarizationMethod = method
			}
		}
		if pre.InvertColors {
			p.step("invert", func(g *image.Gray) (*image.Gray, error) { return invert(g), nil })
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, p.img); err != nil {
		return nil, p.meta, apperrors.NewImageProcessingError("failed to encode preprocessed image", err)
	}
	return buf.Bytes(), p.meta, nil
}

type preprocessor struct {
	img  *image.Gray
	meta *types.ImagePreprocessingMetadata
}

// step runs fn on the current image. Errors and panics leave the image as it
// was and are recorded under name.
func (p *preprocessor) step(name string, fn func(*image.Gray) (*image.Gray, error)) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(name, fmt.Errorf("panic: %v", r))
		}
	}()
	out, err := fn(p.img)
	if err != nil {
		p.fail(name, err)
		return
	}
	p.img = out
	p.meta.StepsApplied = append(p.meta.StepsApplied, name)
}

func (p *preprocessor) fail(name string, err error) {
	if p.meta.StepErrors == nil {
		p.meta.StepErrors = make(map[string]string)
	}
	p.meta.StepErrors[name] = err.Error()
}
