package messaging

// InboundKind is the type of an incoming chat message.
type InboundKind string

const (
	InboundText        InboundKind = "text"
	InboundLocation    InboundKind = "location"
	InboundInteractive InboundKind = "interactive" // button or list reply
	InboundUnsupported InboundKind = "unsupported"
)

// Inbound is one message received from a chat platform webhook.
type Inbound struct {
	ID         string
	From       string
	Name       string // sender profile name, may be empty
	Kind       InboundKind
	Text       string
	Lat        float64
	Lng        float64
	ReplyID    string // callback token of the chosen button or row
	ReplyTitle string
}
