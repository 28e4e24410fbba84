package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// fakeAPI answers Bot API calls by chat id:
// "403" is blocked, "429" is rate limited, anything else succeeds.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	last  map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	body := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.last = body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	chat, _ := body["chat_id"].(string)
	switch {
	case chat == "403":
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	case chat == "429":
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`))
	case method == "editMessageText":
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: message is not modified: specified new message content and reply markup are exactly the same"}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}
}

func newTestMessenger(t *testing.T) (*Messenger, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	m, err := New(Config{APIURL: srv.URL, Timeout: 5 * time.Second}, "123:test", logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, api
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, "  ", logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	m, api := newTestMessenger(t)
	ref, err := m.Send(context.Background(), "42", transport.Payload{Kind: transport.KindText, Text: "hello"},
		&transport.SendOptions{ParseMode: "Markdown", Buttons: [][]transport.Button{{{Text: "Open", URL: "https://example.com"}}}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.MessageID != 77 || ref.ChatID != 42 {
		t.Fatalf("ref = %+v", ref)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.calls) != 1 || api.calls[0] != "sendMessage" {
		t.Fatalf("calls = %v", api.calls)
	}
	if api.last["text"] != "hello" || api.last["parse_mode"] != "Markdown" {
		t.Fatalf("payload = %v", api.last)
	}
	if _, ok := api.last["reply_markup"]; !ok {
		t.Fatalf("reply_markup missing: %v", api.last)
	}
}

func TestSendErrorsAreAPIErrors(t *testing.T) {
	t.Parallel()

	m, _ := newTestMessenger(t)
	ctx := context.Background()
	text := transport.Payload{Kind: transport.KindText, Text: "x"}

	_, err := m.Send(ctx, "403", text, nil)
	ae, ok := transport.AsAPIError(err)
	if !ok || ae.Code != 403 || !strings.Contains(ae.Description, "blocked by the user") {
		t.Fatalf("blocked error = %#v", err)
	}

	_, err = m.Send(ctx, "429", text, nil)
	ae, ok = transport.AsAPIError(err)
	if !ok || !ae.IsRateLimited() || ae.RetryAfter != 7*time.Second {
		t.Fatalf("flood error = %#v", err)
	}
}

func TestSendMediaKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind   transport.Kind
		method string
	}{
		{transport.KindPhoto, "sendPhoto"},
		{transport.KindVideo, "sendVideo"},
		{transport.KindDocument, "sendDocument"},
		{transport.KindAudio, "sendAudio"},
		{transport.KindVoice, "sendVoice"},
		{transport.KindVoiceNote, "sendVoice"},
		{transport.KindSticker, "sendSticker"},
		{transport.KindAnimation, "sendAnimation"},
		{transport.KindVideoNote, "sendVideoNote"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()

			m, api := newTestMessenger(t)
			_, err := m.Send(context.Background(), "42", transport.Payload{Kind: tc.kind, Media: "AgACfileid", Caption: "c"}, nil)
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			api.mu.Lock()
			defer api.mu.Unlock()
			if len(api.calls) != 1 || api.calls[0] != tc.method {
				t.Fatalf("calls = %v, want %s", api.calls, tc.method)
			}
		})
	}
}

func TestSendInvalidPayloadMakesNoCall(t *testing.T) {
	t.Parallel()

	m, api := newTestMessenger(t)
	_, err := m.Send(context.Background(), "42", transport.Payload{Kind: transport.KindPhoto}, nil)
	var pe *transport.PayloadError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PayloadError", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.calls) != 0 {
		t.Fatalf("calls = %v", api.calls)
	}
}

func TestEditNotModifiedIsIgnored(t *testing.T) {
	t.Parallel()

	m, _ := newTestMessenger(t)
	ref := transport.MessageRef{Chat: "42", ChatID: 42, MessageID: 77}
	if err := m.EditText(context.Background(), ref, "same", nil); err != nil {
		t.Fatalf("EditText: %v", err)
	}
}

func TestSendDocumentUploads(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		contentType = r.Header.Get("Content-Type")
		api.mu.Unlock()
		api.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	m, err := New(Config{APIURL: srv.URL}, "123:test", logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = m.SendDocument(context.Background(), "42", transport.Document{Name: "failures.txt", Reader: strings.NewReader("a | b\n")})
	if err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		t.Fatalf("content type = %q", contentType)
	}
}

func TestCancelledContextSkipsCall(t *testing.T) {
	t.Parallel()

	m, api := newTestMessenger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Send(ctx, "42", transport.Payload{Kind: transport.KindText, Text: "x"}, nil); err == nil {
		t.Fatal("expected context error")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.calls) != 0 {
		t.Fatalf("calls = %v", api.calls)
	}
}
