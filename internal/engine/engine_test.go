package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

var testPage = model.PageImage{Index: 0, PageNumber: 1, PNG: pngBytes}

var _ = Describe("CustomModel", func() {
	var (
		server *ghttp.Server
		eng    *CustomModel
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		eng = NewCustomModel(server.URL(), nil)
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model server answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/recognize"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req RecognizeRequest
					body, _ := io.ReadAll(r.Body)
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Language).To(Equal("jpn"))
					decoded, err := base64.StdEncoding.DecodeString(req.Image)
					Expect(err).NotTo(HaveOccurred())
					Expect(decoded).To(Equal(pngBytes))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
					"success": true,
					"data": map[string]interface{}{
						"text":       "請求書",
						"confidence": 0.92,
						"language":   "ja",
						"lines": []map[string]interface{}{
							{"text": "請求書", "confidence": 0.92, "bbox": []int{10, 20, 300, 40}},
						},
					},
				}),
			))
		})

		It("maps the response onto an EngineResult", func() {
			res, err := eng.Recognize(context.Background(), testPage, "jpn")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Engine).To(Equal(NameCustomModel))
			Expect(res.Text).To(Equal("請求書"))
			Expect(res.Confidence).To(BeNumerically("~", 0.92, 1e-9))
			Expect(res.Language).To(Equal("jpn"))
			Expect(res.Boxes).To(HaveLen(1))
			Expect(res.Boxes[0].Box).To(Equal(model.BoundingBox{X: 10, Y: 20, Width: 300, Height: 40}))
		})
	})

	When("the model server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
		})

		It("returns an error", func() {
			_, err := eng.Recognize(context.Background(), testPage, "")
			Expect(err).To(MatchError(ContainSubstring("500")))
		})
	})

	When("the model server reports success=false", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
				"success": false,
				"message": "model not loaded",
			}))
		})

		It("returns the message as an error", func() {
			_, err := eng.Recognize(context.Background(), testPage, "")
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})
})

var _ = Describe("AzureForm", func() {
	var (
		server *ghttp.Server
		eng    *AzureForm
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		eng = NewAzureForm(&AzureFormConfig{
			Endpoint:     server.URL(),
			APIKey:       "secret",
			PollInterval: 10 * time.Millisecond,
		})
	})

	AfterEach(func() {
		server.Close()
	})

	It("submits the page and polls the operation until it succeeds", func() {
		operation := server.URL() + "/operations/42"
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/formrecognizer/documentModels/prebuilt-read:analyze"),
				ghttp.VerifyHeaderKV("Ocp-Apim-Subscription-Key", "secret"),
				ghttp.RespondWith(http.StatusAccepted, "", http.Header{"Operation-Location": []string{operation}}),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/operations/42"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{"status": "running"}),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/operations/42"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
					"status": "succeeded",
					"analyzeResult": map[string]interface{}{
						"content": "Total 100",
						"pages": []map[string]interface{}{{
							"words": []map[string]interface{}{
								{"content": "Total", "confidence": 0.9, "polygon": []float64{0, 0, 50, 0, 50, 10, 0, 10}},
								{"content": "100", "confidence": 0.7, "polygon": []float64{60, 0, 90, 0, 90, 10, 60, 10}},
							},
						}},
						"languages": []map[string]interface{}{{"locale": "en", "confidence": 0.95}},
					},
				}),
			),
		)

		res, err := eng.Recognize(context.Background(), testPage, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Text).To(Equal("Total 100"))
		Expect(res.Confidence).To(BeNumerically("~", 0.8, 1e-9))
		Expect(res.Language).To(Equal("eng"))
		Expect(res.Boxes[1].Box).To(Equal(model.BoundingBox{X: 60, Y: 0, Width: 30, Height: 10}))
		Expect(server.ReceivedRequests()).To(HaveLen(3))
	})

	It("surfaces a failed analysis", func() {
		server.AppendHandlers(
			ghttp.RespondWith(http.StatusAccepted, "", http.Header{"Operation-Location": []string{server.URL() + "/operations/1"}}),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
				"status": "failed",
				"error":  map[string]string{"code": "InvalidImage", "message": "unreadable"},
			}),
		)

		_, err := eng.Recognize(context.Background(), testPage, "")
		Expect(err).To(MatchError(ContainSubstring("InvalidImage")))
	})

	It("stops polling when the context expires", func() {
		server.AppendHandlers(
			ghttp.RespondWith(http.StatusAccepted, "", http.Header{"Operation-Location": []string{server.URL() + "/operations/1"}}),
		)
		server.SetAllowUnhandledRequests(true)
		server.SetUnhandledRequestStatusCode(http.StatusOK)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := eng.Recognize(ctx, testPage, "")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("GoogleVision", func() {
	var (
		server *ghttp.Server
		eng    *GoogleVision
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		eng, err = NewGoogleVision(context.Background(), &GoogleVisionConfig{
			ClientOptions: []option.ClientOption{
				option.WithEndpoint(server.URL() + "/"),
				option.WithoutAuthentication(),
			},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("reads text, page confidence and detected language", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/images:annotate"),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
				"responses": []map[string]interface{}{{
					"fullTextAnnotation": map[string]interface{}{
						"text": "총액: ₩100,000",
						"pages": []map[string]interface{}{{
							"confidence": 0.6,
							"property": map[string]interface{}{
								"detectedLanguages": []map[string]interface{}{{"languageCode": "ko", "confidence": 0.9}},
							},
							"blocks": []map[string]interface{}{{
								"confidence": 0.6,
								"boundingBox": map[string]interface{}{
									"vertices": []map[string]int{{"x": 5, "y": 5}, {"x": 105, "y": 5}, {"x": 105, "y": 25}, {"x": 5, "y": 25}},
								},
							}},
						}},
					},
				}},
			}),
		))

		res, err := eng.Recognize(context.Background(), testPage, "kor")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Engine).To(Equal(NameGoogleVision))
		Expect(res.Text).To(Equal("총액: ₩100,000"))
		Expect(res.Confidence).To(BeNumerically("~", 0.6, 1e-9))
		Expect(res.Language).To(Equal("kor"))
		Expect(res.Boxes[0].Box).To(Equal(model.BoundingBox{X: 5, Y: 5, Width: 100, Height: 20}))
	})

	It("returns per-image errors", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
			"responses": []map[string]interface{}{{
				"error": map[string]interface{}{"code": 3, "message": "Bad image data."},
			}},
		}))

		_, err := eng.Recognize(context.Background(), testPage, "")
		Expect(err).To(MatchError(ContainSubstring("Bad image data.")))
	})
})

var _ = Describe("textQualityConfidence", func() {
	It("is zero for empty text and capped for long text", func() {
		Expect(textQualityConfidence("")).To(BeZero())
		long := ""
		for i := 0; i < 300; i++ {
			long += "word "
		}
		Expect(textQualityConfidence(long)).To(BeNumerically("<=", 0.8))
	})

	It("penalizes symbol noise", func() {
		Expect(textQualityConfidence("|||~~~###")).To(BeNumerically("<", 0.5))
	})
})
