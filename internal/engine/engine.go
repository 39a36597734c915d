package engine

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// Engine names used in configuration and in PageResult.EngineResults.
const (
	NameCustomModel  = "custom_model"
	NameTesseract    = "tesseract"
	NameGoogleVision = "google_vision"
	NameAzureForm    = "azure_form"
)

// Engine is the capability every recognition provider implements.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.EngineResult, error)
}

// encodedPage returns the PNG bytes of the page, encoding the image if needed.
func encodedPage(page model.PageImage) ([]byte, error) {
	if len(page.PNG) > 0 {
		return page.PNG, nil
	}
	if page.Image == nil {
		return nil, fmt.Errorf("page %d has no image", page.PageNumber)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, page.Image); err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", page.PageNumber, err)
	}
	return buf.Bytes(), nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// isoLanguage maps a Tesseract code to the ISO-639-1 code cloud providers expect.
func isoLanguage(code string) string {
	switch code {
	case "jpn":
		return "ja"
	case "eng":
		return "en"
	case "kor":
		return "ko"
	case "chi_sim":
		return "zh"
	case "chi_tra":
		return "zh-TW"
	}
	return code
}
