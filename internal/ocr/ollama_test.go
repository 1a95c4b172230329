package ocr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server      *ghttp.Server
		recognizer  *Ollama
		contentType string
		text        string
		err         error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		recognizer, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
		contentType = "image/png"
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = recognizer.Recognize(context.Background(), []byte("png-bytes"), contentType)
	})

	When("the API answers", func() {
		var request ollamaChatRequest

		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, _ := io.ReadAll(r.Body)
					Expect(json.Unmarshal(body, &request)).To(Succeed())
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "```\nendesa\nTotal 51,11 €\n```"},
					Done:    true,
				}),
			))
		})

		It("should return the cleaned transcript", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("endesa\nTotal 51,11 €"))
		})

		It("should send the page with the user message", func() {
			Expect(request.Model).To(Equal("llava"))
			Expect(request.Messages).To(HaveLen(2))
			Expect(request.Messages[1].Images).To(ConsistOf("cG5nLWJ5dGVz"))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns an error with the status", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
		})
	})

	When("the page is a PDF", func() {
		BeforeEach(func() {
			contentType = "application/pdf"
		})

		It("returns the unsupported content error without calling the API", func() {
			Expect(err).To(MatchError(ErrUnsupportedContent))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})
