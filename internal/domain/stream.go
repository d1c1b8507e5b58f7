package domain

// StreamMessage is one chat item delivered by Connect contact streaming.
type StreamMessage struct {
	ID               string `json:"Id"`
	Type             string `json:"Type"`
	ContentType      string `json:"ContentType"`
	Content          string `json:"Content"`
	ParticipantRole  string `json:"ParticipantRole"`
	DisplayName      string `json:"DisplayName"`
	ContactID        string `json:"ContactId"`
	InitialContactID string `json:"InitialContactId"`
	AbsoluteTime     string `json:"AbsoluteTime"`
}

const (
	StreamTypeMessage = "MESSAGE"
	ContentTypeText   = "text/plain"

	RoleAgent    = "AGENT"
	RoleSystem   = "SYSTEM"
	RoleCustomer = "CUSTOMER"
)

// SMS is an outbound text for the gateway.
type SMS struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}
