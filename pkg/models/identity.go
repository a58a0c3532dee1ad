package models

// Identity is the authenticated caller attached to a request.
// A nil *Identity means the caller is unauthenticated.
type Identity struct {
	Subject   string   `json:"sub"`
	AccountID string   `json:"account_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}
