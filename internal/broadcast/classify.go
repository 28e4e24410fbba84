package broadcast

import (
	"context"
	"errors"
	"strings"
	"time"

	"castbot/internal/transport"
)

// Verdict is the classification of one failed attempt.
// Retry verdicts are not terminal and carry no category.
type Verdict struct {
	Category   Category
	Retry      bool
	RetryAfter time.Duration
	// Reason is the literal failure description.
	Reason string
}

// LogReason is the failure log text for a terminal verdict.
func (v Verdict) LogReason() string {
	if v.Category == CategoryOther {
		return "Other: " + v.Reason
	}
	return v.Category.Label()
}

var (
	invalidMarkers = []string{"chat not found", "user not found", "peer_id_invalid", "chat_id is empty"}
	blockedMarkers = []string{"bot was blocked by the user"}
	deletedMarkers = []string{"user is deactivated"}
)

// Classify maps a delivery failure to a verdict. Rules apply in order:
// rate limit (retry), invalid, blocked, deleted, other. Descriptions are
// matched case-insensitively; when the API reports a status code, the
// recipient categories also require the matching class (400 for invalid,
// 403 for blocked and deleted).
func Classify(err error) Verdict {
	if err == nil {
		return Verdict{Category: CategoryOther, Reason: "unknown error"}
	}

	var pe *transport.PayloadError
	if errors.As(err, &pe) {
		return Verdict{Category: CategoryOther, Reason: pe.Reason}
	}

	ae, ok := transport.AsAPIError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Verdict{Category: CategoryOther, Reason: "cancelled: " + err.Error()}
		}
		return Verdict{Category: CategoryOther, Reason: err.Error()}
	}

	if ae.IsRateLimited() {
		d := ae.RetryAfter
		if d <= 0 {
			d = DefaultRetryAfter
		}
		return Verdict{Retry: true, RetryAfter: d, Reason: ae.Description}
	}

	desc := strings.ToLower(ae.Description)
	switch {
	case codeIn(ae.Code, 400) && containsAny(desc, invalidMarkers):
		return Verdict{Category: CategoryInvalid, Reason: ae.Description}
	case codeIn(ae.Code, 403) && containsAny(desc, blockedMarkers):
		return Verdict{Category: CategoryBlocked, Reason: ae.Description}
	case codeIn(ae.Code, 403) && containsAny(desc, deletedMarkers):
		return Verdict{Category: CategoryDeleted, Reason: ae.Description}
	}

	reason := strings.TrimSpace(ae.Description)
	if reason == "" {
		reason = ae.Error()
	}
	return Verdict{Category: CategoryOther, Reason: reason}
}

// codeIn treats 0 as "no status code reported".
func codeIn(code, want int) bool { return code == 0 || code == want }

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
