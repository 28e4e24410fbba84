package broadcast

import (
	"strings"
	"testing"
	"time"
)

func TestStatusText(t *testing.T) {
	t.Parallel()

	p := ProgressReport{
		CompletedBatches: 2,
		TotalBatches:     62,
		TotalRecipients:  1234,
		SuccessCount:     1001,
		Breakdown:        Breakdown{Blocked: 3, Deleted: 2, Invalid: 1, Other: 4},
	}
	want := "🚀 Broadcast Progress:\n\n" +
		"Batches Completed: 2/62\n" +
		"Total Users: 1,234\n" +
		"Sent: 1,001\n\n" +
		"❌ Failed Breakdown:\n" +
		"Blocked: 3\n" +
		"Deleted: 2\n" +
		"Invalid ID: 1\n" +
		"Other Errors: 4"
	if got := p.StatusText(); got != want {
		t.Fatalf("StatusText:\n%s\nwant:\n%s", got, want)
	}

	p.Page, p.TotalPages = 2, 3
	if got := p.StatusText(); !strings.Contains(got, "Page: 2/3\n") {
		t.Fatalf("paged status missing page line:\n%s", got)
	}
}

func TestFinalText(t *testing.T) {
	t.Parallel()

	p := ProgressReport{TotalRecipients: 3, SuccessCount: 1, Breakdown: Breakdown{Invalid: 1, Blocked: 1}, Elapsed: 2345 * time.Millisecond}
	got := p.FinalText()
	for _, want := range []string{
		"✅ Broadcast Completed:\n\n",
		"Total Users: 3\n",
		"Successfully Sent: 1\n\n",
		"Blocked: 1\n",
		"Invalid ID: 1\n",
		"⏱ Time taken: 2.345s",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("FinalText missing %q:\n%s", want, got)
		}
	}
}

func TestInitialText(t *testing.T) {
	t.Parallel()

	want := "🚀 Starting broadcast:\nTotal users: 25\nSent: 0\nFailed: 0"
	if got := initialText(25); got != want {
		t.Fatalf("initialText=%q", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]string{
		-time.Second:                          "0s",
		1500 * time.Millisecond:               "1.5s",
		90*time.Second + 400*time.Millisecond: "1m30s",
	}
	for d, want := range cases {
		if got := formatElapsed(d); got != want {
			t.Fatalf("formatElapsed(%s)=%q want %q", d, got, want)
		}
	}
}
