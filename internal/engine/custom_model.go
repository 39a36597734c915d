/**
 * Custom model adapter
 *
 * Talks to the locally hosted recognition model server over JSON.
 * POST {baseURL}/v1/recognize with a base64 page image; the server answers
 * with text, confidence, detected language and optional line boxes.
 */

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// CustomModel handles communication with the model server
type CustomModel struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// RecognizeRequest is the model server request body
type RecognizeRequest struct {
	Image    string `json:"image"`              // Base64 encoded PNG
	Format   string `json:"format"`             // always "png"
	Language string `json:"language,omitempty"` // Tesseract-style hint
	Page     int    `json:"page"`
}

// RecognizeResponse is the model server response body
type RecognizeResponse struct {
	Success bool          `json:"success"`
	Data    RecognizeData `json:"data"`
	Message string        `json:"message"`
}

// RecognizeData contains the recognized text and metadata
type RecognizeData struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	ModelUsed  string  `json:"modelUsed"`
	Lines      []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		BBox       [4]int  `json:"bbox"` // x, y, width, height
	} `json:"lines"`
}

// NewCustomModel creates a new model server client.
// httpClient may be nil; per-call deadlines come from the context.
func NewCustomModel(baseURL string, httpClient *http.Client) *CustomModel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &CustomModel{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logging.NewLogger("CustomModelEngine"),
	}
}

func (c *CustomModel) Name() string { return NameCustomModel }

// Recognize sends one page to the model server
func (c *CustomModel) Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.EngineResult, error) {
	startTime := time.Now()

	data, err := encodedPage(page)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(&RecognizeRequest{
		Image:    base64.StdEncoding.EncodeToString(data),
		Format:   "png",
		Language: languageHint,
		Page:     page.PageNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/recognize", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "ocr-consensus-worker")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to model server failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned error status %d: %s", resp.StatusCode, string(body))
	}

	var out RecognizeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("model server operation failed: %s", out.Message)
	}

	boxes := make([]model.TextBox, 0, len(out.Data.Lines))
	for _, l := range out.Data.Lines {
		boxes = append(boxes, model.TextBox{
			Text:       l.Text,
			Confidence: clampConfidence(l.Confidence),
			Box:        model.BoundingBox{X: l.BBox[0], Y: l.BBox[1], Width: l.BBox[2], Height: l.BBox[3]},
		})
	}

	language, _ := model.NormalizeLanguage(out.Data.Language)

	c.logger.Debug("Model server page recognized",
		"page", page.PageNumber,
		"modelUsed", out.Data.ModelUsed,
		"confidence", out.Data.Confidence,
		"textLength", len(out.Data.Text))

	return &model.EngineResult{
		Engine:       NameCustomModel,
		Text:         out.Data.Text,
		Confidence:   clampConfidence(out.Data.Confidence),
		Language:     language,
		Boxes:        boxes,
		ProcessingMs: model.Elapsed(startTime),
	}, nil
}
