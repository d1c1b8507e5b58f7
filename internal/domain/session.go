package domain

import "errors"

// SessionRecord is the persisted pointer from a customer number to the most
// recent chat contact created for it.
type SessionRecord struct {
	OriginatingNumber string `dynamodbav:"originatingNumber"`
	ContactID         string `dynamodbav:"contactId"`
	ConnectionToken   string `dynamodbav:"connectionToken"`
	ExpiryDateTime    int64  `dynamodbav:"expiryDateTime"`
	UpdatedAt         string `dynamodbav:"updatedAt,omitempty"`
}

// SessionState is either Absent or Active. The store never returns nil.
type SessionState interface {
	sessionState()
}

// Absent means no usable record exists for the number.
type Absent struct{}

// Active carries the last known contact and its participant credential.
// ConnectionToken may be empty; ContactID is still used for rehydration.
type Active struct {
	ContactID       string
	ConnectionToken string
}

func (Absent) sessionState() {}
func (Active) sessionState() {}

// StateOf maps a stored record to its state. Records past their expiry are
// Absent even if the table has not reaped them yet.
func StateOf(rec SessionRecord, nowUnix int64) SessionState {
	if rec.OriginatingNumber == "" || rec.ContactID == "" {
		return Absent{}
	}
	if rec.ExpiryDateTime > 0 && rec.ExpiryDateTime <= nowUnix {
		return Absent{}
	}
	return Active{ContactID: rec.ContactID, ConnectionToken: rec.ConnectionToken}
}

// PriorContactID returns the contact a new chat should rehydrate from, or "".
func PriorContactID(s SessionState) string {
	if a, ok := s.(Active); ok {
		return a.ContactID
	}
	return ""
}

// ErrSessionConflict reports that a conditional session write lost to a
// concurrent writer.
var ErrSessionConflict = errors.New("session record changed concurrently")
