package directory

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrUnknownDriver = errors.New("unknown directory driver")

// ErrDisabled is returned when a lookup key is used but no backend is configured.
var ErrDisabled = errors.New("directory lookup disabled")

// Config configures the directory backend.
//
// If Driver is empty or "none", lookups are disabled and only literal
// recipient lists can be broadcast to.
type Config struct {
	Driver   string
	URL      string // http: endpoint; redis: redis:// URL
	Path     string // sqlite: database file
	DSN      string // postgres
	PageSize int
	Timeout  time.Duration
	// Prefix namespaces redis keys; defaults to "castbot:directory:".
	Prefix string
}

const DefaultPageSize = 1000

func (c Config) pageSize() int {
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 15 * time.Second
	}
	return c.Timeout
}

// Page is one 1-based page of a directory listing.
type Page struct {
	IDs        []string
	TotalUsers int
	TotalPages int
}

// Directory is a paged recipient lookup.
type Directory interface {
	FetchPage(ctx context.Context, key string, page int) (Page, error)
	Close() error
}

// Source selects where a broadcast's recipients come from.
// Exactly one of IDs and Key is set on a valid request.
type Source struct {
	IDs []string
	Key string
}

func Static(ids ...string) Source { return Source{IDs: ids} }

func Lookup(key string) Source { return Source{Key: strings.TrimSpace(key)} }

func (s Source) IsLookup() bool { return len(s.IDs) == 0 && s.Key != "" }

func (s Source) Empty() bool { return len(s.IDs) == 0 && s.Key == "" }

// pages returns ceil(total/size).
func pages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Importer is implemented by backends that can be populated locally
// (sqlite, postgres, redis).
type Importer interface {
	Add(ctx context.Context, key string, ids ...string) error
}
