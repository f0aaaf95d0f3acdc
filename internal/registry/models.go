package registry

import "time"

// Bot is one tenant's configuration: the Messenger page it serves,
// the credentials to answer the subscription handshake and call the
// Send API, and the Gemini key used to generate replies.
type Bot struct {
	ID              string    `db:"id"                json:"id"`
	PageID          string    `db:"page_id"           json:"pageId"`
	VerifyToken     string    `db:"verify_token"      json:"verifyToken"`
	PageAccessToken string    `db:"page_access_token" json:"pageAccessToken"`
	APIKey          string    `db:"api_key"           json:"apiKey"`
	CreatedAt       time.Time `db:"created_at"        json:"createdAt"`
}

// RegisterInput carries the fields of a tenant registration request.
// PageID is optional; bots without one can only be resolved by verify token.
type RegisterInput struct {
	PageID          string `json:"pageId"`
	VerifyToken     string `json:"verifyToken"     validate:"required"`
	PageAccessToken string `json:"pageAccessToken" validate:"required"`
	APIKey          string `json:"apiKey"          validate:"required"`
}
