package contact

import "time"

// EmergencyContact receives alerts on behalf of an account. Phone and Email are optional,
// but a contact without either can never be reached.
type EmergencyContact struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

func (c EmergencyContact) Reachable() bool {
	return c.Phone != "" || c.Email != ""
}
