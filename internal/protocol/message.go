package protocol

import (
	"fmt"
	"strings"
)

const (
	// MaxTagLength is the longest tag accepted on the wire or at registration.
	MaxTagLength = 63

	// DefaultPort is the standard URBI server port.
	DefaultPort = 54000

	SystemPrefix = "***"
	ErrorPrefix  = "!!!"
)

// Reserved virtual tags. Applications must not send on these.
const (
	WildcardTag    = "__ANY__"
	ErrorTag       = "__ERROR__"
	ClientErrorTag = "__CLIENTERROR__"

	// ReservedPrefix marks tags owned by the engine.
	ReservedPrefix = "__"
)

// Kind classifies one decoded message.
type Kind uint8

const (
	KindData Kind = iota
	KindSystem
	KindError
	// KindClientError marks a locally synthesized transport failure.
	KindClientError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindSystem:
		return "system"
	case KindError:
		return "error"
	case KindClientError:
		return "client_error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Binary is one raw block announced by a "BIN <size> <header>;" directive.
type Binary struct {
	Header string
	Data   []byte
}

// Value is the payload of a data message: the body text with binary
// spans excised, plus the binaries in order of appearance.
type Value struct {
	Text     string
	Binaries []Binary
}

// Message is one decoded server message. It is never mutated after the
// parser hands it out.
type Message struct {
	Timestamp int64
	Tag       string
	Kind      Kind
	// Value is set only for KindData.
	Value *Value
	// Text is the body for data messages and the message after the
	// ***/!!! sigil for system and error messages.
	Text string
	// Raw is the full line without terminator and without binary bytes.
	Raw string
}

// NewClientError builds the pseudo-message used to report local failures.
func NewClientError(timestamp int64, text string) Message {
	return Message{
		Timestamp: timestamp,
		Tag:       ClientErrorTag,
		Kind:      KindClientError,
		Text:      text,
		Raw:       fmt.Sprintf("[%08d:%s] %s %s", timestamp, ClientErrorTag, ErrorPrefix, text),
	}
}

func (m Message) String() string {
	if m.Raw != "" {
		return m.Raw
	}
	return fmt.Sprintf("[%08d:%s] %s", m.Timestamp, m.Tag, m.Text)
}

// Binaries returns the binary blocks carried by a data message.
func (m Message) Binaries() []Binary {
	if m.Value == nil {
		return nil
	}
	return m.Value.Binaries
}

// ValidateTag checks the length and character constraints shared by the
// wire header grammar and callback registration.
func ValidateTag(tag string) error {
	if tag == "" {
		return ErrEmptyTag
	}
	if len(tag) > MaxTagLength {
		return fmt.Errorf("%w: %d > %d", ErrTagTooLong, len(tag), MaxTagLength)
	}
	if i := strings.IndexFunc(tag, invalidTagRune); i >= 0 {
		return fmt.Errorf("%w: %q at %d", ErrInvalidTag, tag[i], i)
	}
	return nil
}

// IsReservedTag reports whether tag lives in the engine-owned namespace.
func IsReservedTag(tag string) bool {
	return strings.HasPrefix(tag, ReservedPrefix)
}

func invalidTagRune(r rune) bool {
	switch r {
	case '[', ']', ':', '"', ' ', '\t', '\r', '\n':
		return true
	}
	return r < 0x20 || r == 0x7f
}
