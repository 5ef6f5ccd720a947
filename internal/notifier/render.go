package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"sitewatch/internal/domain"
	"sitewatch/internal/monitor"
	kit "sitewatch/internal/transport"
)

// StatusExplanation is the human reading of well-known failure codes.
func StatusExplanation(code int) string {
	switch code {
	case 403:
		return "the bot cannot access the site"
	case 404:
		return "this site does not exist"
	case 500:
		return "internal server error"
	case 503:
		return "service unavailable"
	}
	return ""
}

func outcomeLabel(o domain.Outcome) string {
	switch o {
	case domain.OutcomeUp:
		return "up"
	case domain.OutcomeDown:
		return "down"
	case domain.OutcomeCertificate:
		return "certificate error"
	case domain.OutcomeNetworkError:
		return "network error"
	case domain.OutcomeTimeout:
		return "timed out"
	}
	return string(o)
}

// RenderAlert formats a as Telegram HTML.
func RenderAlert(a monitor.Alert) string {
	var b strings.Builder
	u := html.EscapeString(a.URL)
	if a.Recovered {
		fmt.Fprintf(&b, "✅ <b>Recovered</b>: %s is up again", u)
		if a.HTTPStatus > 0 {
			fmt.Fprintf(&b, " (HTTP %d)", a.HTTPStatus)
		}
		if a.Previous != "" {
			fmt.Fprintf(&b, "\nWas: %s", outcomeLabel(a.Previous))
		}
	} else {
		fmt.Fprintf(&b, "<b>Problem checking</b> %s\n\nState: %s", u, outcomeLabel(a.Outcome))
		if a.HTTPStatus > 0 {
			fmt.Fprintf(&b, "\nStatus code: %d", a.HTTPStatus)
			if exp := StatusExplanation(a.HTTPStatus); exp != "" {
				b.WriteString("\n" + exp)
			}
		}
		if a.ErrorKind != domain.ErrKindNone {
			fmt.Fprintf(&b, "\nError: %s", html.EscapeString(strings.ReplaceAll(string(a.ErrorKind), "_", " ")))
		}
	}
	if a.CertIssuer != "" {
		fmt.Fprintf(&b, "\nCertificate issuer: %s", html.EscapeString(a.CertIssuer))
	}
	fmt.Fprintf(&b, "\n<i>%s</i>", a.Timestamp.UTC().Format(time.RFC1123))
	return b.String()
}

// AlertNotification addresses a to the owner's private chat. The dedup key
// identifies the transition so a re-queued copy is dropped.
func AlertNotification(a monitor.Alert) kit.Notification {
	prio := 9
	if a.Recovered {
		prio = 5
	}
	return kit.Notification{
		Channel:  "telegram",
		Priority: prio,
		Target:   kit.ChatTarget{ChatID: a.OwnerID},
		Text:     RenderAlert(a),
		Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		DedupKey: fmt.Sprintf("alert|%d|%s|%s|%d", a.OwnerID, a.URL, a.Outcome, a.Timestamp.UnixNano()),
	}
}
