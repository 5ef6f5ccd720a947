package watchbot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sitewatch/internal/domain"
	"sitewatch/internal/notifier"
	"sitewatch/internal/probe"
	"sitewatch/pkg/tgui"
)

const timeLayout = "2006-01-02 15:04 UTC"

func badge(o domain.Outcome) string {
	switch o {
	case domain.OutcomeUp:
		return "✅ up"
	case domain.OutcomeDown:
		return "🔴 down"
	case domain.OutcomeCertificate:
		return "🔒 certificate error"
	case domain.OutcomeNetworkError:
		return "🌐 network error"
	case domain.OutcomeTimeout:
		return "⏱ timed out"
	case "":
		return "⏳ not checked yet"
	}
	return string(o)
}

func ms(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + " ms"
}

func renderWatches(ws []domain.WatchEntry) tgui.H {
	if len(ws) == 0 {
		return "You are not watching any site yet. Send <code>/add &lt;url&gt;</code> to start."
	}
	var b strings.Builder
	b.WriteString("📋 <b>Your watches</b>\n")
	for i, w := range ws {
		fmt.Fprintf(&b, "\n[%d] %s\n     %s, since %s", i+1, tgui.Esc(w.URL), badge(w.LastState), w.AddedAt.UTC().Format(timeLayout))
	}
	return tgui.H(b.String())
}

func resultLine(r domain.CheckResult) string {
	var b strings.Builder
	b.WriteString(r.Timestamp.UTC().Format(timeLayout))
	b.WriteString("  ")
	b.WriteString(badge(r.Outcome))
	var extra []string
	if r.HTTPStatus > 0 {
		extra = append(extra, "HTTP "+strconv.Itoa(r.HTTPStatus))
	}
	if r.ErrorKind != domain.ErrKindNone {
		extra = append(extra, strings.ReplaceAll(string(r.ErrorKind), "_", " "))
	}
	if r.Duration > 0 {
		extra = append(extra, ms(r.Duration))
	}
	if len(extra) > 0 {
		b.WriteString(" (" + strings.Join(extra, ", ") + ")")
	}
	return b.String()
}

// renderHistory shows the newest limit results of url, oldest first.
func renderHistory(url string, rs []domain.CheckResult, limit int) tgui.H {
	if len(rs) == 0 {
		return tgui.H("No results recorded for " + tgui.Code(url).String() + " yet.")
	}
	c := tgui.NewCard().Title("📒", "History").HTML(tgui.Code(url))
	if len(rs) > limit {
		c.HTML(tgui.I(fmt.Sprintf("last %d of %d checks", limit, len(rs))))
		rs = rs[len(rs)-limit:]
	}
	c.Blank()
	for _, r := range rs {
		c.Line(resultLine(r))
	}
	if last := rs[len(rs)-1]; last.CertIssuer != "" {
		c.Blank().KV("Certificate issuer", last.CertIssuer)
	}
	return tgui.H(c.Build().Text)
}

// renderLatest is the per-watch summary used by /history without arguments.
func renderLatest(latest []latestResult) tgui.H {
	c := tgui.NewCard().Title("📒", "Latest results")
	for _, l := range latest {
		c.Blank().HTML(tgui.Code(l.url))
		if l.result == nil {
			c.Line(badge(""))
			continue
		}
		c.Line(resultLine(*l.result))
	}
	return tgui.H(c.Build().Text)
}

type latestResult struct {
	url    string
	result *domain.CheckResult
}

func renderCheckNow(r domain.CheckResult) tgui.H {
	c := tgui.NewCard().Title("🔁", "Check finished").HTML(tgui.Code(r.URL)).Blank().Line(resultLine(r))
	if exp := notifier.StatusExplanation(r.HTTPStatus); exp != "" {
		c.Line(exp)
	}
	c.KV("Certificate issuer", r.CertIssuer)
	if r.CertError != domain.CertErrNone {
		c.KV("Certificate lookup", strings.ReplaceAll(string(r.CertError), "_", " "))
	}
	return tgui.H(c.Build().Text)
}

func robotsLabel(code int) string {
	switch {
	case code == 0:
		return "unreachable"
	case code >= 200 && code < 300:
		return "found (HTTP " + strconv.Itoa(code) + ")"
	}
	return "missing (HTTP " + strconv.Itoa(code) + ")"
}

func renderInspect(info probe.SiteInfo) tgui.H {
	c := tgui.NewCard().Title("🔭", "Site report").HTML(tgui.Code(info.URL)).Blank()
	c.KV("State", badge(info.Outcome))
	if info.Status > 0 {
		c.KV("Status code", strconv.Itoa(info.Status))
		c.KV("Meaning", notifier.StatusExplanation(info.Status))
	}
	if info.ErrorKind != domain.ErrKindNone {
		c.KV("Error", strings.ReplaceAll(string(info.ErrorKind), "_", " "))
	}
	c.KV("Response time", ms(info.Duration))
	c.KV("robots.txt", robotsLabel(info.RobotsStatus))
	c.KV("sitemap.xml", robotsLabel(info.SitemapStatus))

	cert := info.Cert
	c.Blank().HTML(tgui.B("Certificate"))
	if cert.ErrKind == domain.CertErrHandshake || cert.ErrKind == domain.CertErrParse {
		c.Line("Could not read the certificate (" + string(cert.ErrKind) + ").")
		return tgui.H(c.Build().Text)
	}
	c.KV("Common name", cert.Subject)
	c.KV("Organization", cert.Issuer)
	c.KV("Country", cert.Country)
	c.KV("Issuer", cert.IssuerCN)
	if !cert.NotAfter.IsZero() {
		c.KV("Expires", cert.NotAfter.UTC().Format(timeLayout))
	}
	return tgui.H(c.Build().Text)
}
