package rag_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quizzy-backend/models"
	"quizzy-backend/rag"
)

var _ = Describe("PromptAssembler", func() {
	var assembler *rag.PromptAssembler

	BeforeEach(func() {
		assembler = rag.NewPromptAssembler(0, "")
	})

	It("keeps the six most recent turns in order", func() {
		var history []models.ChatTurn
		for i := 1; i <= 9; i++ {
			role := models.RoleUser
			if i%2 == 0 {
				role = models.RoleAssistant
			}
			history = append(history, models.ChatTurn{Role: role, Content: fmt.Sprintf("turn %d", i)})
		}

		messages := assembler.Build(nil, history, "bonjour")
		Expect(messages).To(HaveLen(8))
		Expect(messages[0].Role).To(Equal(models.RoleSystem))
		Expect(messages[1:7]).To(Equal(history[3:]))
		Expect(messages[7]).To(Equal(models.ChatTurn{Role: models.RoleUser, Content: "bonjour"}))
	})

	It("passes short histories through untouched", func() {
		history := []models.ChatTurn{{Role: models.RoleUser, Content: "a"}, {Role: models.RoleAssistant, Content: "b"}}
		messages := assembler.Build(nil, history, "c")
		Expect(messages).To(HaveLen(4))
		Expect(messages[1:3]).To(Equal(history))
	})

	It("honours a custom limit", func() {
		history := []models.ChatTurn{{Content: "1"}, {Content: "2"}, {Content: "3"}}
		messages := rag.NewPromptAssembler(2, "").Build(nil, history, "q")
		Expect(messages[1:3]).To(Equal(history[1:]))
	})

	It("lists retrieved documents in ranked order", func() {
		docs := []rag.Document{{ID: "1", Text: "premier"}, {ID: "2", Text: "second"}}
		prompt := assembler.SystemPrompt(docs)

		Expect(prompt).To(ContainSubstring("droit tunisien"))
		Expect(prompt).To(ContainSubstring("Contexte juridique pertinent:\nDocument 1:\npremier\n\n---\n\nDocument 2:\nsecond"))
		Expect(prompt).To(ContainSubstring("Cite les articles de loi pertinents"))
		Expect(prompt).To(HaveSuffix("Réponds en français"))
	})

	It("says when nothing was retrieved", func() {
		prompt := assembler.SystemPrompt(nil)
		Expect(prompt).To(ContainSubstring("Aucun document pertinent"))
		Expect(prompt).NotTo(ContainSubstring("Document 1:"))
	})

	It("uses the configured language", func() {
		Expect(rag.NewPromptAssembler(6, "arabe").SystemPrompt(nil)).To(HaveSuffix("Réponds en arabe"))
	})
})
