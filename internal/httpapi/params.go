package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"castbot/internal/broadcast"
	"castbot/internal/transport"
)

var errMethod = errors.New("method not allowed")

// decodeParams reads a broadcast request from the query string (GET), a JSON
// body, or a urlencoded/multipart form body (POST).
func decodeParams(r *http.Request, maxBody int64) (broadcast.Params, error) {
	switch r.Method {
	case http.MethodGet:
		return paramsFromValues(r.URL.Query())
	case http.MethodPost:
	default:
		return broadcast.Params{}, errMethod
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return broadcast.Params{}, &broadcast.ValidationError{Message: "Invalid form body."}
		}
		return paramsFromValues(r.Form)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBody); err != nil {
			return broadcast.Params{}, &broadcast.ValidationError{Message: "Invalid form body."}
		}
		return paramsFromValues(r.Form)
	}

	var p broadcast.Params
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&p); err != nil {
		var ve *broadcast.ValidationError
		if errors.As(err, &ve) {
			return broadcast.Params{}, ve
		}
		if errors.Is(err, io.EOF) {
			return broadcast.Params{}, &broadcast.ValidationError{Message: "Missing required parameters."}
		}
		return broadcast.Params{}, &broadcast.ValidationError{Message: "Invalid JSON body."}
	}
	return p, nil
}

func paramsFromValues(v url.Values) (broadcast.Params, error) {
	get := func(k string) string { return strings.TrimSpace(v.Get(k)) }

	p := broadcast.Params{
		BotToken:     get("bot_token"),
		AdminID:      broadcast.FlexString(get("admin_id")),
		DirectoryKey: get("directory_key"),
		Type:         get("type"),
		Text:         v.Get("text"),
		Caption:      v.Get("caption"),
		FileID:       get("file_id"),
		ParseMode:    get("parse_mode"),
		BatchDelay:   broadcast.FlexString(get("batch_delay")),
	}

	if raw := get("users_id"); raw != "" {
		ids, err := broadcast.ParseIDList(raw)
		if err != nil {
			return broadcast.Params{}, err
		}
		p.UsersID = ids
	}
	if raw := get("buttons"); raw != "" {
		var rows [][]transport.Button
		if err := json.Unmarshal([]byte(raw), &rows); err != nil {
			return broadcast.Params{}, &broadcast.ValidationError{Field: "buttons", Message: "Invalid buttons format. Should be a JSON array of rows."}
		}
		p.Buttons = rows
	}

	var err error
	if p.ProtectContent, err = flag(v, "protect_content"); err != nil {
		return broadcast.Params{}, err
	}
	if p.DisableWebPreview, err = flag(v, "disable_web_page_preview"); err != nil {
		return broadcast.Params{}, err
	}
	if p.Pin, err = flag(v, "pin"); err != nil {
		return broadcast.Params{}, err
	}
	if p.BatchSize, err = number(v, "batch_size"); err != nil {
		return broadcast.Params{}, err
	}
	if p.ParallelLimit, err = number(v, "parallel_limit"); err != nil {
		return broadcast.Params{}, err
	}
	return p, nil
}

func flag(v url.Values, key string) (bool, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &broadcast.ValidationError{Field: key, Message: "must be true or false"}
	}
	return b, nil
}

func number(v url.Values, key string) (int, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &broadcast.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}
