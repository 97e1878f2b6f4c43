package models

import (
	"time"
)

// Infraction represents one entry of the legal reference corpus
type Infraction struct {
	ID             int       `json:"id" yaml:"id"`
	Categorie      string    `json:"categorie" yaml:"categorie"`
	Infraction     string    `json:"infraction" yaml:"infraction"`
	Description    string    `json:"description" yaml:"description"`
	Article        string    `json:"article" yaml:"article"`
	SanctionPrison string    `json:"sanction_prison" yaml:"sanction_prison"`
	SanctionAmende string    `json:"sanction_amende" yaml:"sanction_amende"`
	Aggravation    *string   `json:"aggravation,omitempty" yaml:"aggravation,omitempty"`
	MotsCles       []string  `json:"mots_cles" yaml:"mots_cles"`
	Exemples       []string  `json:"exemples,omitempty" yaml:"exemples,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at,omitzero" yaml:"-"`
}

// InfractionCorpus is the on-disk shape of a corpus file ({"infractions": [...]})
type InfractionCorpus struct {
	Infractions []Infraction `json:"infractions" yaml:"infractions"`
}
