package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
)

var _ = Describe("OpenAI", func() {
	var (
		server *ghttp.Server
		client *OpenAI
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewOpenAI(OpenAIConfig{BaseURL: server.URL() + "/v1/", APIKey: "sk-test", Model: "test-model"}, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends a bounded chat completion and returns the first choice", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
			ghttp.VerifyHeaderKV("Authorization", "Bearer sk-test"),
			func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				var req chatRequest
				Expect(json.Unmarshal(body, &req)).To(Succeed())
				Expect(req.Model).To(Equal("test-model"))
				Expect(req.MaxTokens).To(Equal(256))
				Expect(req.Temperature).To(BeNumerically("~", 0.1, 1e-9))
				Expect(req.Messages).To(HaveLen(2))
				Expect(req.Messages[1].Content).To(Equal("find the total"))
				Expect(r.Header.Get("X-Request-ID")).NotTo(BeEmpty())
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
				"choices": []map[string]interface{}{
					{"message": map[string]string{"content": "```json\n{\"value\": \"12,800\", \"confidence\": 0.8}\n```"}},
				},
			}),
		))

		out, err := client.Complete(context.Background(), Request{Prompt: "find the total", MaxTokens: 256, Temperature: 0.1})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"value": "12,800", "confidence": 0.8}`))
	})

	It("surfaces non-2xx responses as errors", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, `{"error":"rate limited"}`))

		_, err := client.Complete(context.Background(), Request{Prompt: "x"})
		Expect(err).To(MatchError(ContainSubstring("openai status 429")))
	})

	It("rejects a reply without choices", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{"choices": []interface{}{}}))

		_, err := client.Complete(context.Background(), Request{Prompt: "x"})
		Expect(err).To(MatchError(ContainSubstring("no choices")))
	})

	It("requires an API key", func() {
		_, err := NewOpenAI(OpenAIConfig{}, nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Gemini replies", func() {
	It("joins the text parts of the first candidate", func() {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"value": `), genai.Text(`"A-1", "confidence": 0.7}`)}},
			}},
		}
		text, err := responseText(resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal(`{"value": "A-1", "confidence": 0.7}`))
	})

	It("fails on an empty response", func() {
		_, err := responseText(&genai.GenerateContentResponse{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("New", func() {
	It("returns no completer when the fallback is disabled", func() {
		c, err := New(context.Background(), &config.Config{LLMProvider: ProviderNone}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(BeNil())
	})

	It("rejects unknown providers", func() {
		_, err := New(context.Background(), &config.Config{LLMProvider: "cohere"}, nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = DescribeTable("StripFences",
	func(in, want string) {
		Expect(StripFences(in)).To(Equal(want))
	},
	Entry("plain", `{"a":1}`, `{"a":1}`),
	Entry("json fence", "```json\n{\"a\":1}\n```", `{"a":1}`),
	Entry("bare fence", "```\n{\"a\":1}\n```", `{"a":1}`),
)

var _ = Describe("Schema validation", func() {
	It("validates against a compiled schema", func() {
		schema, err := CompileSchema(map[string]any{
			"type":     "object",
			"required": []string{"value"},
			"properties": map[string]any{
				"value": map[string]any{"type": "string"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ValidateJSON(schema, []byte(`{"value":"x"}`))).To(Succeed())
		Expect(ValidateJSON(schema, []byte(`{"value":3}`))).NotTo(Succeed())
		Expect(ValidateJSON(schema, []byte(`not json`))).NotTo(Succeed())
	})
})
