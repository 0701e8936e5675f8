package models

import (
	"strings"
	"time"
)

// Integrations seeded by the initial migration.
const (
	IntegrationPL       = "PL"
	IntegrationDiscord  = "DISCORD"
	IntegrationPiazza   = "PIAZZA"
	IntegrationTelegram = "TELEGRAM"
)

type Integration struct {
	Key       string    `db:"integration_key" json:"key" validate:"required,max=32,integration_key"`
	Name      string    `db:"name" json:"name" validate:"required,max=64"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (i *Integration) Validate() error {
	i.Key = NormalizeIntegrationKey(i.Key)
	return validate.Struct(i)
}

// NormalizeIntegrationKey maps user input like " discord " onto the stored key.
func NormalizeIntegrationKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ExternalIDAttribute is the student filter attribute holding the student's id
// on the given integration, e.g. "DISCORD" -> "discord_id".
func ExternalIDAttribute(key string) string {
	return strings.ToLower(NormalizeIntegrationKey(key)) + "_id"
}
