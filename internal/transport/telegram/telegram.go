package telegram

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// Config configures Bot API access. One Messenger is built per bot token.
type Config struct {
	// APIURL overrides the Bot API endpoint (tests, local bot-api servers).
	APIURL  string
	Timeout time.Duration
}

// Messenger implements transport.Messenger on top of telebot.
//
// The bot runs in offline mode: it never polls for updates and does not call
// getMe on construction, so a bad token only surfaces on the first send.
type Messenger struct {
	bot *tele.Bot
	log logx.Logger
}

var _ transport.Messenger = (*Messenger)(nil)

func New(cfg Config, token string, log logx.Logger) (*Messenger, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{bot: b, log: log}, nil
}

// NewFactory returns a transport.Factory bound to cfg.
func NewFactory(cfg Config, log logx.Logger) transport.Factory {
	return func(token string) (transport.Messenger, error) {
		return New(cfg, token, log)
	}
}

type chat transport.Recipient

func (c chat) Recipient() string { return string(c) }

func (m *Messenger) Send(ctx context.Context, to transport.Recipient, p transport.Payload, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	what, err := sendable(p)
	if err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := m.bot.Send(chat(to), what, sendOptions(p.Kind, opt))
	if err != nil {
		return transport.MessageRef{}, convertError(err)
	}
	return refOf(to, msg), nil
}

func (m *Messenger) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	so := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if _, err := m.bot.Edit(storedMessage(ref), text, so); err != nil {
		err = convertError(err)
		// Editing with identical text is not a failure for a status message.
		if ae, ok := transport.AsAPIError(err); ok && strings.Contains(ae.Description, "message is not modified") {
			return nil
		}
		return err
	}
	return nil
}

func (m *Messenger) Pin(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.bot.Pin(storedMessage(ref), tele.Silent); err != nil {
		return convertError(err)
	}
	return nil
}

func (m *Messenger) SendDocument(ctx context.Context, to transport.Recipient, doc transport.Document) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	if doc.Reader == nil {
		return transport.MessageRef{}, errors.New("document reader is nil")
	}
	d := &tele.Document{File: tele.FromReader(doc.Reader), FileName: doc.Name, Caption: doc.Caption}
	msg, err := m.bot.Send(chat(to), d)
	if err != nil {
		return transport.MessageRef{}, convertError(err)
	}
	return refOf(to, msg), nil
}

// sendable maps a payload to the telebot value that selects the Bot API method.
func sendable(p transport.Payload) (any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	file := mediaFile(p.Media)
	switch p.Kind {
	case transport.KindText:
		return p.Text, nil
	case transport.KindPhoto:
		return &tele.Photo{File: file, Caption: p.Caption}, nil
	case transport.KindVideo:
		return &tele.Video{File: file, Caption: p.Caption}, nil
	case transport.KindDocument:
		return &tele.Document{File: file, Caption: p.Caption}, nil
	case transport.KindAudio:
		return &tele.Audio{File: file, Caption: p.Caption}, nil
	case transport.KindVoice, transport.KindVoiceNote:
		// Telegram voice messages are voice notes; there is no separate method.
		return &tele.Voice{File: file, Caption: p.Caption}, nil
	case transport.KindSticker:
		return &tele.Sticker{File: file}, nil
	case transport.KindAnimation:
		return &tele.Animation{File: file, Caption: p.Caption}, nil
	case transport.KindVideoNote:
		return &tele.VideoNote{File: file}, nil
	}
	return nil, &transport.PayloadError{Reason: "Unsupported media type"}
}

func mediaFile(ref string) tele.File {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.File{FileID: ref}
}

func sendOptions(kind transport.Kind, opt *transport.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode: opt.ParseMode,
		Protected: opt.Protect,
	}
	if kind == transport.KindText {
		so.DisableWebPagePreview = opt.DisablePreview
	}
	if len(opt.Buttons) > 0 {
		rows := make([][]tele.InlineButton, 0, len(opt.Buttons))
		for _, row := range opt.Buttons {
			btns := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				btns = append(btns, tele.InlineButton{Text: b.Text, URL: b.URL})
			}
			if len(btns) > 0 {
				rows = append(rows, btns)
			}
		}
		if len(rows) > 0 {
			so.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
		}
	}
	return so
}

func refOf(to transport.Recipient, msg *tele.Message) transport.MessageRef {
	ref := transport.MessageRef{Chat: to}
	if msg == nil {
		return ref
	}
	ref.MessageID = msg.ID
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	return ref
}

func storedMessage(ref transport.MessageRef) tele.StoredMessage {
	chatID := ref.ChatID
	if chatID == 0 {
		chatID, _ = strconv.ParseInt(string(ref.Chat), 10, 64)
	}
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: chatID}
}

// telebot reports unknown API errors as "telegram: <description> (<code>)".
var unknownErrRe = regexp.MustCompile(`^telegram: (.*) \((\d+)\)$`)

// convertError turns telebot errors into *transport.APIError where the API
// answered; network failures are returned unchanged.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &transport.APIError{Code: 429, Description: fe.Error(), RetryAfter: time.Duration(fe.RetryAfter) * time.Second}
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return &transport.APIError{Code: 429, Description: fep.Error(), RetryAfter: time.Duration(fep.RetryAfter) * time.Second}
	}
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		return &transport.APIError{Code: te.Code, Description: te.Description}
	}
	if m := unknownErrRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return &transport.APIError{Code: code, Description: m[1]}
	}
	return err
}
