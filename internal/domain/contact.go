package domain

// ChatRequest describes a chat contact to start.
type ChatRequest struct {
	InstanceID          string
	ContactFlowID       string
	DisplayName         string
	Attributes          map[string]string
	ChatDurationMinutes int32
	// RehydrateFrom, when set, stitches the new contact's transcript onto
	// this prior contact.
	RehydrateFrom string
}

// ChatContact is the result of starting a chat contact.
type ChatContact struct {
	ContactID        string
	ParticipantID    string
	ParticipantToken string
}
