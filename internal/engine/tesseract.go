/**
 * Tesseract engine adapter
 *
 * Free, offline OCR. Confidence is the mean word confidence reported by
 * Tesseract; when no word boxes come back it falls back to a text-quality
 * estimate capped below the ensemble threshold.
 */

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// Languages is a '+' separated Tesseract language list used when no hint is given.
	Languages string
	// DPI is passed as user_defined_dpi when positive.
	DPI float64
}

// Tesseract recognizes pages with a fresh gosseract client per call.
type Tesseract struct {
	languages     []string
	dpi           float64
	clientFactory func() *gosseract.Client
	logger        *logging.Logger
}

// NewTesseract creates a new Tesseract engine
func NewTesseract(cfg *TesseractConfig) *Tesseract {
	langs := splitLanguages(cfg.Languages)
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &Tesseract{
		languages:     langs,
		dpi:           cfg.DPI,
		clientFactory: gosseract.NewClient,
		logger:        logging.NewLogger("TesseractEngine"),
	}
}

func (t *Tesseract) Name() string { return NameTesseract }

// Recognize performs OCR using Tesseract
func (t *Tesseract) Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.EngineResult, error) {
	startTime := time.Now()

	data, err := encodedPage(page)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := t.clientFactory()
	defer client.Close()

	langs := t.languages
	if languageHint != "" {
		langs = []string{languageHint}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("failed to set languages %v: %w", langs, err)
	}
	if t.dpi > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(int(t.dpi))); err != nil {
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}
	text = strings.TrimSpace(text)

	boxes, confidence := wordBoxes(client)
	if len(boxes) == 0 {
		confidence = textQualityConfidence(text)
	}

	language := languageHint
	if language == "" {
		language = model.GuessLanguage(text)
	}

	t.logger.Debug("Tesseract page recognized",
		"page", page.PageNumber,
		"words", len(boxes),
		"confidence", confidence,
		"language", language)

	return &model.EngineResult{
		Engine:       NameTesseract,
		Text:         text,
		Confidence:   clampConfidence(confidence),
		Language:     language,
		Boxes:        boxes,
		ProcessingMs: model.Elapsed(startTime),
	}, nil
}

func wordBoxes(c *gosseract.Client) ([]model.TextBox, float64) {
	raw, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(raw) == 0 {
		return nil, 0
	}
	boxes := make([]model.TextBox, 0, len(raw))
	var sum float64
	for _, b := range raw {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		conf := b.Confidence / 100.0
		sum += conf
		boxes = append(boxes, model.TextBox{
			Text:       b.Word,
			Confidence: conf,
			Box: model.BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	if len(boxes) == 0 {
		return nil, 0
	}
	return boxes, sum / float64(len(boxes))
}

// textQualityConfidence estimates confidence based on text quality
func textQualityConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	confidence := 0.5 // Base confidence

	runes := []rune(text)
	if len(runes) > 200 {
		confidence += 0.1
	}
	if len(runes) > 1000 {
		confidence += 0.05
	}

	// Share of letters (any script) and digits among non-space runes
	var meaningful, total int
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			meaningful++
		}
	}
	if total > 0 {
		ratio := float64(meaningful) / float64(total)
		if ratio > 0.7 {
			confidence += 0.1
		} else if ratio < 0.4 {
			confidence -= 0.2
		}
	}

	// Cap below what a word-level score can claim
	if confidence > 0.8 {
		confidence = 0.8
	}
	return confidence
}

func splitLanguages(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
