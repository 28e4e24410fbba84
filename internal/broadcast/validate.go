package broadcast

import (
	"strings"
)

// Validate checks the request-level fields. Payload problems are not request
// errors: they fail each recipient individually during delivery.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return invalidf("bot_token", "Missing required parameters.")
	}
	if strings.TrimSpace(string(r.Admin)) == "" {
		return invalidf("admin_id", "Missing required parameters.")
	}
	if r.Source.Empty() {
		return invalidf("users_id", "Missing required parameters.")
	}
	if len(r.Source.IDs) > 0 && r.Source.Key != "" {
		return invalidf("users_id", "users_id and directory_key are mutually exclusive.")
	}
	for i, id := range r.Source.IDs {
		if strings.TrimSpace(id) == "" {
			return invalidf("users_id", "entry %d is empty", i)
		}
	}
	if strings.TrimSpace(string(r.Payload.Kind)) == "" {
		return invalidf("type", "Missing required parameters.")
	}
	if r.Batching.Size < 0 {
		return invalidf("batch_size", "must not be negative")
	}
	if r.Batching.ParallelLimit < 0 {
		return invalidf("parallel_limit", "must not be negative")
	}
	if r.Batching.Delay < 0 {
		return invalidf("batch_delay", "must not be negative")
	}
	for i, row := range r.Options.Buttons {
		for j, b := range row {
			if strings.TrimSpace(b.Text) == "" || strings.TrimSpace(b.URL) == "" {
				return invalidf("buttons", "button [%d][%d] needs text and url", i, j)
			}
		}
	}
	return nil
}
