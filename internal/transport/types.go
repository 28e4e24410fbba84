package transport

import (
	"context"
	"io"
	"strings"
)

// Recipient addresses one chat on the messaging API.
// Telegram accepts numeric chat ids as well as "@channelusername".
type Recipient string

func (r Recipient) String() string { return string(r) }

// MessageRef identifies a message that was sent, so it can be edited or pinned.
type MessageRef struct {
	Chat      Recipient
	ChatID    int64 // resolved numeric chat id (0 if the API did not report one)
	MessageID int
}

// Kind selects which API operation delivers a Payload.
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindDocument  Kind = "document"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindSticker   Kind = "sticker"
	KindAnimation Kind = "animation"
	KindVideoNote Kind = "video_note"
	KindVoiceNote Kind = "voice_note"
)

// Kinds lists every supported payload kind.
var Kinds = []Kind{
	KindText, KindPhoto, KindVideo, KindDocument, KindAudio,
	KindVoice, KindSticker, KindAnimation, KindVideoNote, KindVoiceNote,
}

// ParseKind normalizes a kind string ("video-note" and "video_note" are the same kind).
// Unknown kinds are returned as-is; Payload.Validate rejects them per recipient.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	return Kind(strings.ReplaceAll(s, "-", "_"))
}

func (k Kind) Supported() bool {
	for _, x := range Kinds {
		if x == k {
			return true
		}
	}
	return false
}

// HasCaption reports whether the kind carries a caption at all.
func (k Kind) HasCaption() bool {
	switch k {
	case KindText, KindSticker, KindVideoNote:
		return false
	}
	return k.Supported()
}

// Payload is the message content delivered to every recipient of a broadcast.
//
// Text is the body for KindText. Media is a file_id or an http(s) URL for the
// media kinds. Caption is ignored for kinds without captions.
type Payload struct {
	Kind    Kind
	Text    string
	Media   string
	Caption string
}

// Validate checks that the kind is supported and its primary field is set.
// The error text is what ends up in the failure log.
func (p Payload) Validate() error {
	if !p.Kind.Supported() {
		return &PayloadError{Reason: "Unsupported media type"}
	}
	if p.Kind == KindText {
		if strings.TrimSpace(p.Text) == "" {
			return &PayloadError{Reason: "Missing text for text message"}
		}
		return nil
	}
	if strings.TrimSpace(p.Media) == "" {
		return &PayloadError{Reason: "Missing file_id for " + string(p.Kind)}
	}
	return nil
}

// PayloadError is a local validation failure; no API call was made.
type PayloadError struct{ Reason string }

func (e *PayloadError) Error() string { return e.Reason }

// Button is one inline URL button.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// SendOptions are the delivery options shared by all recipients.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Protect        bool
	Buttons        [][]Button
	Pin            bool
}

// Document is a file upload (the failure log).
type Document struct {
	Name    string
	Caption string
	Reader  io.Reader
}

// Messenger is the messaging API contract the broadcast engine needs.
//
// Implementations return *APIError for structured API failures; anything else
// is treated as a transport failure without a response.
type Messenger interface {
	Send(ctx context.Context, to Recipient, p Payload, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	Pin(ctx context.Context, ref MessageRef) error
	SendDocument(ctx context.Context, to Recipient, doc Document) (MessageRef, error)
}

// Factory builds a Messenger for a bot token. Broadcast requests carry their own token.
type Factory func(token string) (Messenger, error)
