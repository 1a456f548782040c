package subscription

import "time"

// Subscription is unique per (RecipientID, MassifCode, Platform).
type Subscription struct {
	ID          int64
	RecipientID string // Telegram chat ID or WhatsApp phone number
	MassifCode  int
	Platform    Platform
	Preferences ContentPreferences
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subscriber is one recipient of a massif with its content preferences.
type Subscriber struct {
	RecipientID string
	Preferences ContentPreferences
}
