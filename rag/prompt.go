package rag

import (
	"fmt"
	"strings"

	"quizzy-backend/models"
)

const (
	// DefaultHistoryLimit is how many prior turns are kept in the prompt
	DefaultHistoryLimit = 6

	// DefaultLanguage is the language the assistant is told to answer in
	DefaultLanguage = "français"

	noContextText = "Aucun document pertinent n'a été trouvé dans la base juridique."
)

// PromptAssembler builds the grounded message list sent to the completion provider
type PromptAssembler struct {
	historyLimit int
	language     string
}

// NewPromptAssembler creates an assembler; non-positive limits and blank languages fall back to defaults
func NewPromptAssembler(historyLimit int, language string) *PromptAssembler {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = DefaultLanguage
	}
	return &PromptAssembler{historyLimit: historyLimit, language: language}
}

// SystemPrompt renders the system instruction around the ranked documents
func (p *PromptAssembler) SystemPrompt(docs []Document) string {
	grounding := noContextText
	if len(docs) > 0 {
		blocks := make([]string, len(docs))
		for i, doc := range docs {
			blocks[i] = fmt.Sprintf("Document %d:\n%s", i+1, doc.Text)
		}
		grounding = strings.Join(blocks, "\n\n---\n\n")
	}

	return fmt.Sprintf(`Tu es un assistant juridique spécialisé dans le droit tunisien.
Tu réponds aux questions sur les infractions, les sanctions et les articles de loi.

Contexte juridique pertinent:
%s

Instructions:
- Réponds de manière claire et précise
- Cite les articles de loi pertinents
- Si l'information n'est pas dans le contexte, dis-le clairement
- Reste professionnel et objectif
- Réponds en %s`, grounding, p.language)
}

// Build returns the system message, the most recent history turns in order, then the new user turn
func (p *PromptAssembler) Build(docs []Document, history []models.ChatTurn, message string) []models.ChatTurn {
	if len(history) > p.historyLimit {
		history = history[len(history)-p.historyLimit:]
	}

	messages := make([]models.ChatTurn, 0, len(history)+2)
	messages = append(messages, models.ChatTurn{Role: models.RoleSystem, Content: p.SystemPrompt(docs)})
	messages = append(messages, history...)
	messages = append(messages, models.ChatTurn{Role: models.RoleUser, Content: message})
	return messages
}
