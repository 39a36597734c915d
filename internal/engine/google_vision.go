/**
 * Google Cloud Vision adapter
 *
 * DOCUMENT_TEXT_DETECTION through the generated REST client. Page confidence
 * is taken from the full-text annotation (falling back to the block mean);
 * language from the first detected language of the page.
 */

package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// GoogleVisionConfig selects credentials for the Vision API.
type GoogleVisionConfig struct {
	APIKey          string
	CredentialsFile string
	// ClientOptions are appended last (endpoint overrides in tests).
	ClientOptions []option.ClientOption
}

// GoogleVision recognizes pages with the Cloud Vision API
type GoogleVision struct {
	service *vision.Service
	logger  *logging.Logger
}

// NewGoogleVision creates the Vision service client.
func NewGoogleVision(ctx context.Context, cfg *GoogleVisionConfig) (*GoogleVision, error) {
	var opts []option.ClientOption
	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision service: %w", err)
	}
	return &GoogleVision{
		service: svc,
		logger:  logging.NewLogger("GoogleVisionEngine"),
	}, nil
}

func (g *GoogleVision) Name() string { return NameGoogleVision }

// Recognize annotates one page image
func (g *GoogleVision) Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.EngineResult, error) {
	startTime := time.Now()

	data, err := encodedPage(page)
	if err != nil {
		return nil, err
	}

	req := &vision.AnnotateImageRequest{
		Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(data)},
		Features: []*vision.Feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
	}
	if languageHint != "" {
		req.ImageContext = &vision.ImageContext{LanguageHints: []string{isoLanguage(languageHint)}}
	}

	resp, err := g.service.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{req},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("vision annotate failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision returned no responses")
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("vision returned error %d: %s", r.Error.Code, r.Error.Message)
	}

	result := &model.EngineResult{Engine: NameGoogleVision}
	if fta := r.FullTextAnnotation; fta != nil {
		result.Text = fta.Text
		result.Confidence, result.Language, result.Boxes = summarizeVisionPages(fta.Pages)
	}
	result.Confidence = clampConfidence(result.Confidence)
	result.ProcessingMs = model.Elapsed(startTime)

	g.logger.Debug("Vision page recognized",
		"page", page.PageNumber,
		"confidence", result.Confidence,
		"language", result.Language,
		"blocks", len(result.Boxes))

	return result, nil
}

func summarizeVisionPages(pages []*vision.Page) (float64, string, []model.TextBox) {
	var (
		pageConfSum  float64
		pageConfN    int
		blockConfSum float64
		language     string
		boxes        []model.TextBox
	)
	for _, p := range pages {
		if p == nil {
			continue
		}
		if p.Confidence > 0 {
			pageConfSum += p.Confidence
			pageConfN++
		}
		if language == "" && p.Property != nil {
			for _, dl := range p.Property.DetectedLanguages {
				if code, ok := model.NormalizeLanguage(dl.LanguageCode); ok && code != "" {
					language = code
					break
				}
			}
		}
		for _, b := range p.Blocks {
			blockConfSum += b.Confidence
			boxes = append(boxes, model.TextBox{
				Confidence: b.Confidence,
				Box:        polyBox(b.BoundingBox),
			})
		}
	}

	switch {
	case pageConfN > 0:
		return pageConfSum / float64(pageConfN), language, boxes
	case len(boxes) > 0:
		return blockConfSum / float64(len(boxes)), language, boxes
	}
	return 0, language, boxes
}

func polyBox(poly *vision.BoundingPoly) model.BoundingBox {
	if poly == nil || len(poly.Vertices) == 0 {
		return model.BoundingBox{}
	}
	minX, minY := poly.Vertices[0].X, poly.Vertices[0].Y
	maxX, maxY := minX, minY
	for _, v := range poly.Vertices[1:] {
		minX, maxX = min(minX, v.X), max(maxX, v.X)
		minY, maxY = min(minY, v.Y), max(maxY, v.Y)
	}
	return model.BoundingBox{X: int(minX), Y: int(minY), Width: int(maxX - minX), Height: int(maxY - minY)}
}
