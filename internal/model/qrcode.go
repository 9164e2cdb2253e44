package model

import "time"

// QRRecord holds the inputs of a user's WhatsApp QR code.
//
// The PNG itself is never stored: it is regenerated on every request from
// PhoneNumber and MessageTemplate, so the record is cheap to change and
// carries nothing security-sensitive.
type QRRecord struct {
	OwnerID         string    `json:"ownerId"         db:"owner_id"`
	PhoneNumber     string    `json:"phoneNumber"     db:"phone_number"`
	MessageTemplate string    `json:"messageTemplate" db:"message_template"` // optional pre-filled chat text
	UpdatedAt       time.Time `json:"updatedAt"       db:"updated_at"`
}
