package rag

import (
	"strconv"
	"strings"

	"quizzy-backend/models"
)

// Metadata is the citation data carried by a Document
type Metadata struct {
	Category       string
	InfractionName string
	ArticleRef     string
}

// Document is the indexed form of one corpus record
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Citation converts the document metadata into a source citation
func (d Document) Citation() models.SourceCitation {
	return models.SourceCitation{
		Category:   d.Metadata.Category,
		Infraction: d.Metadata.InfractionName,
		Article:    d.Metadata.ArticleRef,
	}
}

// RenderDocument renders a record into its deterministic indexed text.
// Optional fields that are blank are left out entirely.
func RenderDocument(inf models.Infraction) Document {
	var lines []string
	add := func(label, value string) {
		lines = append(lines, label+": "+strings.TrimSpace(value))
	}

	add("Catégorie", inf.Categorie)
	add("Infraction", inf.Infraction)
	add("Description", inf.Description)
	add("Article", inf.Article)
	add("Sanction Prison", inf.SanctionPrison)
	add("Sanction Amende", inf.SanctionAmende)

	if inf.Aggravation != nil && strings.TrimSpace(*inf.Aggravation) != "" {
		add("Aggravation", *inf.Aggravation)
	}
	if kw := compact(inf.MotsCles); len(kw) > 0 {
		add("Mots-clés", strings.Join(kw, ", "))
	}
	if ex := compact(inf.Exemples); len(ex) > 0 {
		add("Exemples", strings.Join(ex, "; "))
	}

	return Document{
		ID:   strconv.Itoa(inf.ID),
		Text: strings.Join(lines, "\n"),
		Metadata: Metadata{
			Category:       strings.TrimSpace(inf.Categorie),
			InfractionName: strings.TrimSpace(inf.Infraction),
			ArticleRef:     strings.TrimSpace(inf.Article),
		},
	}
}

// RenderDocuments renders every record in order
func RenderDocuments(infractions []models.Infraction) []Document {
	docs := make([]Document, 0, len(infractions))
	for _, inf := range infractions {
		docs = append(docs, RenderDocument(inf))
	}
	return docs
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
