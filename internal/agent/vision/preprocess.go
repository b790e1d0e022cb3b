package vision

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImagePreprocessor 图像预处理接口
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// FitProcessor 等比缩放到最大边长以内
type FitProcessor struct {
	maxDim int
}

func NewFitProcessor(maxDim int) *FitProcessor {
	return &FitProcessor{maxDim: maxDim}
}

func (p *FitProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	if p.maxDim <= 0 || (b.Dx() <= p.maxDim && b.Dy() <= p.maxDim) {
		return img, nil
	}
	return imaging.Fit(img, p.maxDim, p.maxDim, imaging.Lanczos), nil
}

// Flip directions accepted by FlipProcessor.
const (
	FlipHorizontal = "horizontal"
	FlipVertical   = "vertical"
)

// FlipProcessor 水平或垂直翻转
type FlipProcessor struct {
	direction string
}

func NewFlipProcessor(direction string) (*FlipProcessor, error) {
	switch direction {
	case FlipHorizontal, FlipVertical:
		return &FlipProcessor{direction: direction}, nil
	}
	return nil, fmt.Errorf("unsupported flip direction %q", direction)
}

func (p *FlipProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	if p.direction == FlipVertical {
		return imaging.FlipV(img), nil
	}
	return imaging.FlipH(img), nil
}

// Apply runs img through processors in order.
func Apply(img image.Image, processors ...ImagePreprocessor) (image.Image, error) {
	var err error
	for _, p := range processors {
		if img, err = p.Process(img); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// EncodePNG returns img as base64 PNG data.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// LoadForVision opens path, fits it within maxDim and encodes it as base64 PNG.
func LoadForVision(path string, maxDim int) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	img, err = Apply(img, NewFitProcessor(maxDim))
	if err != nil {
		return "", fmt.Errorf("failed to preprocess image: %w", err)
	}
	return EncodePNG(img)
}
