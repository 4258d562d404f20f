package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"listing_alerts/models"
)

const alertHeader = "🔔 *NEW PROPERTY ALERT* 🔔"

// FormatAlert renders l as a Markdown alert message.
func FormatAlert(l *models.Listing) string {
	var b strings.Builder
	b.WriteString(alertHeader)
	b.WriteString("\n\n")
	b.WriteString(FormatListing(l))
	return b.String()
}

// FormatListing renders the listing summary lines. Missing values show as N/A.
func FormatListing(l *models.Listing) string {
	lines := []string{
		fmt.Sprintf("🏠 *%s*", escape(l.Title)),
		"💰 Price: " + escape(strOrNA(l.Price)),
		"🛏 Bedrooms: " + intOrNA(l.Bedrooms),
		"🚽 Bathrooms: " + intOrNA(l.Bathrooms),
		"📍 Location: " + escape(strOrNA(l.Location)),
	}
	if l.URL != "" {
		lines = append(lines, "", fmt.Sprintf("[View property](%s)", l.URL))
	}
	return strings.Join(lines, "\n")
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func strOrNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func intOrNA(n *int) string {
	if n == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *n)
}
