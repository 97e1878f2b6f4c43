package provider

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quizzy-backend/models"
)

var _ = Describe("Gemini", func() {
	It("requires an API key", func() {
		_, err := NewGemini(context.Background(), GeminiConfig{})
		Expect(err).To(MatchError(ContainSubstring("GEMINI_API_KEY")))
	})

	Describe("splitGeminiMessages", func() {
		It("maps roles and separates the final user turn", func() {
			system, history, last, err := splitGeminiMessages([]models.ChatTurn{
				{Role: models.RoleSystem, Content: "contexte"},
				{Role: models.RoleUser, Content: "q1"},
				{Role: models.RoleAssistant, Content: "r1"},
				{Role: models.RoleUser, Content: "q2"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(system).To(Equal("contexte"))
			Expect(last).To(Equal("q2"))
			Expect(history).To(HaveLen(2))
			Expect(history[0].Role).To(Equal("user"))
			Expect(history[0].Parts).To(Equal([]genai.Part{genai.Text("q1")}))
			Expect(history[1].Role).To(Equal("model"))
		})

		It("joins several system turns", func() {
			system, _, _, err := splitGeminiMessages([]models.ChatTurn{
				{Role: models.RoleSystem, Content: "a"},
				{Role: models.RoleUser, Content: "q"},
				{Role: models.RoleSystem, Content: "b"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(system).To(Equal("a\n\nb"))
		})

		It("rejects conversations that do not end with the user", func() {
			_, _, _, err := splitGeminiMessages([]models.ChatTurn{{Role: models.RoleAssistant, Content: "r"}})
			Expect(err).To(MatchError(errNoUserTurn))
		})
	})

	Describe("responseText", func() {
		It("joins text parts of the first candidate", func() {
			resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("Article "), genai.Text("264")}},
			}}}
			Expect(responseText(resp)).To(Equal("Article 264"))
		})

		It("tolerates empty responses", func() {
			Expect(responseText(nil)).To(BeEmpty())
			Expect(responseText(&genai.GenerateContentResponse{})).To(BeEmpty())
		})
	})
})
