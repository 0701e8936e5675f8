package models

import (
	"time"
)

// TokenInfo describes an API token issued to an HTTP client.
type TokenInfo struct {
	Client          string    `json:"client"`
	Token           string    `json:"token"`
	RequestCount    int       `json:"request_count"`
	LastRequestTime time.Time `json:"last_request_dttm_utc"`
	CreatedTime     time.Time `json:"created_dttm_utc"`
}
