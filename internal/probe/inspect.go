package probe

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"sitewatch/internal/domain"
)

// SiteInfo is the one-off report behind the "check" command.
// RobotsStatus and SitemapStatus are 0 when the request failed.
type SiteInfo struct {
	URL           string
	Outcome       domain.Outcome
	Status        int
	ErrorKind     domain.ErrorKind
	Duration      time.Duration
	RobotsStatus  int
	SitemapStatus int
	Cert          CertResult
}

// Inspect runs Check plus lookups of /robots.txt and /sitemap.xml on the
// same origin.
func (p *Prober) Inspect(ctx context.Context, rawURL string) SiteInfo {
	r := p.Check(ctx, rawURL)
	info := SiteInfo{
		URL:       r.URL,
		Outcome:   r.Outcome,
		Status:    r.HTTPStatus,
		ErrorKind: r.ErrorKind,
		Duration:  r.Duration,
		Cert:      r.Cert,
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return info
	}
	origin := u.Scheme + "://" + u.Host

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		info.RobotsStatus = p.statusOf(ctx, origin+"/robots.txt")
	}()
	go func() {
		defer wg.Done()
		info.SitemapStatus = p.statusOf(ctx, origin+"/sitemap.xml")
	}()
	wg.Wait()
	return info
}

func (p *Prober) statusOf(ctx context.Context, target string) int {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode
}
