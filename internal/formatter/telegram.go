package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/mailsync/pkg/models"
)

// TelegramFormatter formats sync results for Telegram
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

// FormatResult formats the outcome of one account sync
func (f *TelegramFormatter) FormatResult(account string, trigger models.Trigger, res models.SyncResult) string {
	var sb strings.Builder

	status := "✅ Sync finished"
	switch {
	case res.Cancelled:
		status = "⏹ Sync cancelled"
	case !res.Success:
		status = "❌ Sync failed"
	}

	sb.WriteString(fmt.Sprintf("<b>%s</b>\n", status))
	sb.WriteString(fmt.Sprintf("<b>Account:</b> %s\n", f.escapeHTML(account)))
	if trigger != "" {
		sb.WriteString(fmt.Sprintf("<b>Trigger:</b> %s\n", trigger))
	}
	sb.WriteString(fmt.Sprintf("<b>Messages:</b> %d new / %d seen\n", res.TotalSaved, res.TotalSeen))
	sb.WriteString(fmt.Sprintf("<b>Duration:</b> %s\n", res.Duration.Round(time.Millisecond)))

	if !res.Success && !res.Cancelled {
		if res.ErrorKind != "" {
			sb.WriteString(fmt.Sprintf("<b>Error:</b> %s\n", res.ErrorKind))
		}
		sb.WriteString("\n")
		msg := f.truncate(res.Message, f.maxLength-sb.Len()-50)
		sb.WriteString(fmt.Sprintf("<code>%s</code>", f.escapeHTML(msg)))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
