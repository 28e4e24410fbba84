package broadcast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"castbot/internal/directory"
	"castbot/internal/transport"
)

// Params is the wire form of a broadcast request, shared by the HTTP
// trigger, the send command and scheduled broadcasts.
type Params struct {
	BotToken          string               `json:"bot_token,omitempty"`
	AdminID           FlexString           `json:"admin_id,omitempty"`
	UsersID           IDList               `json:"users_id,omitempty"`
	DirectoryKey      string               `json:"directory_key,omitempty"`
	Type              string               `json:"type,omitempty"`
	Text              string               `json:"text,omitempty"`
	Caption           string               `json:"caption,omitempty"`
	FileID            string               `json:"file_id,omitempty"`
	ParseMode         string               `json:"parse_mode,omitempty"`
	ProtectContent    bool                 `json:"protect_content,omitempty"`
	DisableWebPreview bool                 `json:"disable_web_page_preview,omitempty"`
	Buttons           [][]transport.Button `json:"buttons,omitempty"`
	Pin               bool                 `json:"pin,omitempty"`
	BatchSize         int                  `json:"batch_size,omitempty"`
	ParallelLimit     int                  `json:"parallel_limit,omitempty"`
	// BatchDelay is a Go duration string ("1500ms") or a number of milliseconds.
	BatchDelay FlexString `json:"batch_delay,omitempty"`
}

// Request converts the wire form. Missing mandatory fields are reported by
// Request.Validate, not here; only malformed values fail.
func (p Params) Request() (Request, error) {
	req := Request{
		Token: strings.TrimSpace(p.BotToken),
		Admin: transport.Recipient(strings.TrimSpace(string(p.AdminID))),
		Payload: transport.Payload{
			Kind:    transport.ParseKind(p.Type),
			Text:    p.Text,
			Media:   strings.TrimSpace(p.FileID),
			Caption: p.Caption,
		},
		Options: transport.SendOptions{
			ParseMode:      strings.TrimSpace(p.ParseMode),
			DisablePreview: p.DisableWebPreview,
			Protect:        p.ProtectContent,
			Buttons:        p.Buttons,
			Pin:            p.Pin,
		},
		Batching: BatchingOverrides{
			Size:          p.BatchSize,
			ParallelLimit: p.ParallelLimit,
		},
	}
	if len(p.UsersID) > 0 {
		req.Source = directory.Static(p.UsersID...)
	}
	if key := strings.TrimSpace(p.DirectoryKey); key != "" {
		req.Source.Key = key
	}
	if raw := strings.TrimSpace(string(p.BatchDelay)); raw != "" {
		d, err := parseDelay(raw)
		if err != nil {
			return Request{}, invalidf("batch_delay", "%v", err)
		}
		req.Batching.Delay = d
		req.Batching.DelaySet = true
	}
	return req, nil
}

func parseDelay(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// FlexString accepts a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// IDList is a recipient list given as a JSON array of strings or numbers,
// or as a string holding such an array.
type IDList []string

func (l *IDList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		ids, err := ParseIDList(s)
		if err != nil {
			return err
		}
		*l = ids
		return nil
	}
	if len(b) == 0 || b[0] != '[' {
		return invalidf("users_id", "users_id must be an array.")
	}
	var raw []FlexString
	if err := json.Unmarshal(b, &raw); err != nil {
		return invalidf("users_id", "Invalid users_id format. Should be an array or JSON string.")
	}
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		out = append(out, string(id))
	}
	*l = out
	return nil
}

// ParseIDList parses a JSON array given as text.
func ParseIDList(s string) (IDList, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") {
		return nil, invalidf("users_id", "Invalid users_id format. Should be an array or JSON string.")
	}
	var l IDList
	if err := l.UnmarshalJSON([]byte(s)); err != nil {
		return nil, err
	}
	return l, nil
}
