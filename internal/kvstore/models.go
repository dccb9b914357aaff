package kvstore

import "time"

// Profile is the persona profile a user customizes. Every field has a
// non-empty default so a profile always exists even before first contact.
type Profile struct {
	Name         string    `json:"name"`
	Age          int       `json:"age"`
	Personality  string    `json:"personality"`
	Relationship string    `json:"relationship"`
	Tone         string    `json:"tone"`
	Hobbies      string    `json:"hobbies"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewDefaultProfile returns the default persona, timestamped at now.
// Invoked on store miss; profiles are created lazily and never deleted.
func NewDefaultProfile(now time.Time) *Profile {
	return &Profile{
		Name:         "あい",
		Age:          20,
		Personality:  "優しくて話しやすい",
		Relationship: "友達",
		Tone:         "フレンドリー",
		Hobbies:      "読書、映画鑑賞",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ConversationEntry is one user/assistant exchange in the rolling history.
type ConversationEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
}

// SubscriptionRecord is the stored ledger record for a paying user.
// Presence of the record plus a future ExpiresAt means active; expiry is
// detected lazily on read, never swept.
type SubscriptionRecord struct {
	PlanType             string    `json:"planType"`
	StripeCustomerID     string    `json:"stripeCustomerId"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
	CreatedAt            time.Time `json:"createdAt"`
	ExpiresAt            time.Time `json:"expiresAt"`
}
