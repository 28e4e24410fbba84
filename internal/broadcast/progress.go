package broadcast

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func num(n int) string { return humanize.Comma(int64(n)) }

func initialText(total int) string {
	var b strings.Builder
	b.WriteString("🚀 Starting broadcast:\n")
	b.WriteString("Total users: " + num(total) + "\n")
	b.WriteString("Sent: 0\n")
	b.WriteString("Failed: 0")
	return b.String()
}

// StatusText renders an in-progress report for the live status message.
func (p ProgressReport) StatusText() string {
	var b strings.Builder
	b.WriteString("🚀 Broadcast Progress:\n\n")
	b.WriteString("Batches Completed: " + num(p.CompletedBatches) + "/" + num(p.TotalBatches) + "\n")
	if p.TotalPages > 1 {
		b.WriteString("Page: " + num(p.Page) + "/" + num(p.TotalPages) + "\n")
	}
	b.WriteString("Total Users: " + num(p.TotalRecipients) + "\n")
	b.WriteString("Sent: " + num(p.SuccessCount) + "\n\n")
	p.writeBreakdown(&b)
	return b.String()
}

// FinalText renders the completion report, including elapsed time.
func (p ProgressReport) FinalText() string {
	var b strings.Builder
	b.WriteString("✅ Broadcast Completed:\n\n")
	b.WriteString("Total Users: " + num(p.TotalRecipients) + "\n")
	b.WriteString("Successfully Sent: " + num(p.SuccessCount) + "\n\n")
	p.writeBreakdown(&b)
	b.WriteString("\n\n⏱ Time taken: " + formatElapsed(p.Elapsed))
	return b.String()
}

func abortedText(p ProgressReport, cause error) string {
	var b strings.Builder
	b.WriteString("⛔ Broadcast Aborted:\n\n")
	b.WriteString("Total Users: " + num(p.TotalRecipients) + "\n")
	b.WriteString("Sent: " + num(p.SuccessCount) + "\n\n")
	p.writeBreakdown(&b)
	if cause != nil {
		b.WriteString("\n\nReason: " + cause.Error())
	}
	return b.String()
}

func (p ProgressReport) writeBreakdown(b *strings.Builder) {
	b.WriteString("❌ Failed Breakdown:\n")
	b.WriteString("Blocked: " + num(p.Breakdown.Blocked) + "\n")
	b.WriteString("Deleted: " + num(p.Breakdown.Deleted) + "\n")
	b.WriteString("Invalid ID: " + num(p.Breakdown.Invalid) + "\n")
	b.WriteString("Other Errors: " + num(p.Breakdown.Other))
}

// formatElapsed prints whole seconds above a minute and millisecond precision below.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Millisecond).String()
}
