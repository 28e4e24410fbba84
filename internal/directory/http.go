package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	logx "castbot/pkg/logx"
)

// httpDirectory queries a JSON endpoint:
//
//	GET <url>?key=<key>&page=<n>
//	{"users": [123, "456"], "total_users": 25, "total_pages": 3}
type httpDirectory struct {
	base   *url.URL
	client *http.Client
	log    logx.Logger
}

func openHTTP(cfg Config, log logx.Logger) (Directory, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("directory url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid directory url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid directory url scheme %q", u.Scheme)
	}
	return &httpDirectory{base: u, client: &http.Client{Timeout: cfg.timeout()}, log: log}, nil
}

type pageResponse struct {
	Users      []flexID `json:"users"`
	TotalUsers int      `json:"total_users"`
	TotalPages int      `json:"total_pages"`
}

// flexID accepts both JSON numbers and strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("recipient id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func (d *httpDirectory) FetchPage(ctx context.Context, key string, page int) (Page, error) {
	u := *d.base
	q := u.Query()
	q.Set("key", key)
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, fmt.Errorf("directory returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var pr pageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&pr); err != nil {
		return Page{}, fmt.Errorf("decode directory page: %w", err)
	}

	ids := make([]string, 0, len(pr.Users))
	for _, id := range pr.Users {
		if id != "" {
			ids = append(ids, string(id))
		}
	}
	d.log.Debug("directory page fetched", logx.String("key", key), logx.Int("page", page), logx.Int("ids", len(ids)), logx.Int("total_pages", pr.TotalPages))
	return Page{IDs: ids, TotalUsers: pr.TotalUsers, TotalPages: pr.TotalPages}, nil
}

func (d *httpDirectory) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
