/**
 * Azure Document Intelligence adapter
 *
 * Uses the prebuilt-read model: the analyze call answers 202 with an
 * Operation-Location which is polled until the operation succeeds or fails.
 */

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// AzureFormConfig holds the resource endpoint and key
type AzureFormConfig struct {
	Endpoint     string
	APIKey       string
	APIVersion   string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// AzureForm recognizes pages with Azure Document Intelligence
type AzureForm struct {
	endpoint     string
	apiKey       string
	apiVersion   string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *logging.Logger
}

type azureAnalyzeResult struct {
	Status        string `json:"status"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	AnalyzeResult *struct {
		Content string `json:"content"`
		Pages   []struct {
			Words []struct {
				Content    string    `json:"content"`
				Confidence float64   `json:"confidence"`
				Polygon    []float64 `json:"polygon"`
			} `json:"words"`
		} `json:"pages"`
		Languages []struct {
			Locale     string  `json:"locale"`
			Confidence float64 `json:"confidence"`
		} `json:"languages"`
	} `json:"analyzeResult,omitempty"`
}

// NewAzureForm creates a new Azure Document Intelligence client
func NewAzureForm(cfg *AzureFormConfig) *AzureForm {
	a := &AzureForm{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		apiVersion:   cfg.APIVersion,
		pollInterval: cfg.PollInterval,
		httpClient:   cfg.HTTPClient,
		logger:       logging.NewLogger("AzureFormEngine"),
	}
	if a.apiVersion == "" {
		a.apiVersion = "2023-07-31"
	}
	if a.pollInterval <= 0 {
		a.pollInterval = time.Second
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return a
}

func (a *AzureForm) Name() string { return NameAzureForm }

// Recognize submits the page and waits for the analysis result
func (a *AzureForm) Recognize(ctx context.Context, page model.PageImage, languageHint string) (*model.EngineResult, error) {
	startTime := time.Now()

	data, err := encodedPage(page)
	if err != nil {
		return nil, err
	}

	operation, err := a.startAnalyze(ctx, data, languageHint)
	if err != nil {
		return nil, err
	}

	res, err := a.waitForResult(ctx, operation)
	if err != nil {
		return nil, err
	}

	result := &model.EngineResult{Engine: NameAzureForm}
	if ar := res.AnalyzeResult; ar != nil {
		result.Text = ar.Content
		var sum float64
		for _, p := range ar.Pages {
			for _, w := range p.Words {
				sum += w.Confidence
				result.Boxes = append(result.Boxes, model.TextBox{
					Text:       w.Content,
					Confidence: w.Confidence,
					Box:        polygonBox(w.Polygon),
				})
			}
		}
		if len(result.Boxes) > 0 {
			result.Confidence = sum / float64(len(result.Boxes))
		}
		best := 0.0
		for _, l := range ar.Languages {
			if code, ok := model.NormalizeLanguage(l.Locale); ok && code != "" && l.Confidence > best {
				result.Language, best = code, l.Confidence
			}
		}
	}
	result.Confidence = clampConfidence(result.Confidence)
	result.ProcessingMs = model.Elapsed(startTime)

	a.logger.Debug("Azure page recognized",
		"page", page.PageNumber,
		"words", len(result.Boxes),
		"confidence", result.Confidence)

	return result, nil
}

func (a *AzureForm) startAnalyze(ctx context.Context, data []byte, languageHint string) (string, error) {
	endpoint := fmt.Sprintf("%s/formrecognizer/documentModels/prebuilt-read:analyze?api-version=%s", a.endpoint, a.apiVersion)
	if languageHint != "" {
		endpoint += "&locale=" + isoLanguage(languageHint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("analyze returned unexpected status %d: %s", resp.StatusCode, string(body))
	}

	operation := resp.Header.Get("Operation-Location")
	if operation == "" {
		return "", fmt.Errorf("analyze response carried no Operation-Location")
	}
	return operation, nil
}

// waitForResult polls the operation until completion or context expiry
func (a *AzureForm) waitForResult(ctx context.Context, operation string) (*azureAnalyzeResult, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while waiting for analysis: %w", ctx.Err())

		case <-ticker.C:
			res, err := a.getOperation(ctx, operation)
			if err != nil {
				return nil, err
			}

			switch res.Status {
			case "succeeded":
				return res, nil
			case "failed":
				if res.Error != nil {
					return nil, fmt.Errorf("analysis failed: %s: %s", res.Error.Code, res.Error.Message)
				}
				return nil, fmt.Errorf("analysis failed")
			case "notStarted", "running":
				continue
			default:
				a.logger.Warn("Unknown analysis status", "status", res.Status)
			}
		}
	}
}

func (a *AzureForm) getOperation(ctx context.Context, operation string) (*azureAnalyzeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, operation, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var res azureAnalyzeResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &res, nil
}

// polygonBox converts [x1,y1,x2,y2,...] into an axis aligned box.
func polygonBox(poly []float64) model.BoundingBox {
	if len(poly) < 4 {
		return model.BoundingBox{}
	}
	minX, minY, maxX, maxY := poly[0], poly[1], poly[0], poly[1]
	for i := 2; i+1 < len(poly); i += 2 {
		minX, maxX = min(minX, poly[i]), max(maxX, poly[i])
		minY, maxY = min(minY, poly[i+1]), max(maxY, poly[i+1])
	}
	return model.BoundingBox{X: int(minX), Y: int(minY), Width: int(maxX - minX), Height: int(maxY - minY)}
}
