// Package probe performs one HTTP liveness check and one TLS certificate
// lookup against a URL. Every network failure becomes a classified result;
// Check never returns an error.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

const maxDrainBytes = 64 << 10

type Config struct {
	// Timeout bounds the HTTP GET including redirects. Default 10s.
	Timeout time.Duration
	// CertTimeout bounds the TLS dial and handshake. Default 10s.
	CertTimeout time.Duration
	// InsecureSkipVerify disables verification for the status check only.
	// The certificate channel always verifies.
	InsecureSkipVerify bool
	// MaxRedirects caps followed redirects; the last response is used when hit.
	MaxRedirects int
	UserAgent    string

	// CertPort is the port dialled for the certificate lookup. Default "443".
	CertPort string
	// RootCAs overrides the system trust store for the certificate lookup.
	RootCAs *x509.CertPool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CertTimeout <= 0 {
		c.CertTimeout = 10 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "sitewatch/1.0 (+uptime probe)"
	}
	if c.CertPort == "" {
		c.CertPort = "443"
	}
	return c
}

// CertResult is the outcome of the certificate channel. ErrKind is empty on
// success; Issuer is the leaf's issuer organization.
type CertResult struct {
	Issuer   string             `json:"issuer,omitempty"`
	IssuerCN string             `json:"issuer_cn,omitempty"`
	Subject  string             `json:"subject,omitempty"`
	Country  string             `json:"country,omitempty"`
	NotAfter time.Time          `json:"not_after,omitempty"`
	ErrKind  domain.CertErrKind `json:"err_kind,omitempty"`
	Detail   string             `json:"detail,omitempty"`
}

func (c CertResult) OK() bool { return c.ErrKind == domain.CertErrNone }

// Result is the outcome of one Check.
type Result struct {
	URL        string
	Outcome    domain.Outcome
	HTTPStatus int
	ErrorKind  domain.ErrorKind
	Detail     string
	Cert       CertResult
	CheckedAt  time.Time
	Duration   time.Duration
}

type Prober struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Prober {
	cfg = cfg.withDefaults()
	p := &Prober{cfg: cfg, log: log.With(logx.Component("probe"))}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout, KeepAlive: -1}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // reachability check, trust is checked separately
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
	}
	p.client = &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return p
}

func (p *Prober) Config() Config { return p.cfg }

// Check runs the HTTP and certificate channels concurrently and combines
// them. It never fails; ctx cancellation shows up as Timeout or NetworkError.
func (p *Prober) Check(ctx context.Context, rawURL string) Result {
	res := Result{URL: NormalizeURL(rawURL), CheckedAt: time.Now()}

	u, err := url.Parse(res.URL)
	if err != nil || u.Hostname() == "" {
		res.Outcome = domain.OutcomeNetworkError
		res.ErrorKind = domain.ErrKindNetwork
		res.Detail = "unparseable url"
		res.Cert = CertResult{ErrKind: domain.CertErrHandshake, Detail: "no host"}
		return res
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res.Cert = p.lookupCert(ctx, u.Hostname())
	}()

	status, kind, detail := p.get(ctx, res.URL)
	wg.Wait()

	res.Duration = time.Since(res.CheckedAt)
	res.HTTPStatus = status
	res.ErrorKind = kind
	res.Detail = detail
	switch {
	case kind == domain.ErrKindTimeout:
		res.Outcome = domain.OutcomeTimeout
	case kind != domain.ErrKindNone:
		res.Outcome = domain.OutcomeNetworkError
	case status >= 200 && status <= 399:
		res.Outcome = domain.OutcomeUp
	default:
		res.Outcome = domain.OutcomeDown
	}
	return res
}

// get performs the bounded GET. The body is drained and closed on every path.
func (p *Prober) get(ctx context.Context, target string) (int, domain.ErrorKind, string) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, domain.ErrKindNetwork, err.Error()
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		kind := classifyErr(err)
		p.log.Debug("http check failed", logx.URL(target), logx.String("kind", string(kind)), logx.Err(err))
		return 0, kind, err.Error()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, domain.ErrKindNone, resp.Status
}

// lookupCert dials host:CertPort with verification enabled and reads the
// leaf certificate. The connection is closed on every path.
func (p *Prober) lookupCert(ctx context.Context, host string) CertResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CertTimeout)
	defer cancel()

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.cfg.CertTimeout},
		Config:    &tls.Config{ServerName: host, RootCAs: p.cfg.RootCAs, MinVersion: tls.VersionTLS12},
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, p.cfg.CertPort))
	if err != nil {
		return CertResult{ErrKind: domain.CertErrHandshake, Detail: err.Error()}
	}
	defer conn.Close()

	tc, ok := conn.(*tls.Conn)
	if !ok {
		return CertResult{ErrKind: domain.CertErrHandshake, Detail: "not a tls connection"}
	}
	return certFromState(tc.ConnectionState())
}

func certFromState(st tls.ConnectionState) CertResult {
	if len(st.PeerCertificates) == 0 {
		return CertResult{ErrKind: domain.CertErrParse, Detail: "no peer certificates"}
	}
	leaf, err := x509.ParseCertificate(st.PeerCertificates[0].Raw)
	if err != nil {
		return CertResult{ErrKind: domain.CertErrParse, Detail: err.Error()}
	}
	out := CertResult{
		IssuerCN: leaf.Issuer.CommonName,
		Subject:  leaf.Subject.CommonName,
		NotAfter: leaf.NotAfter,
	}
	if len(leaf.Issuer.Country) > 0 {
		out.Country = leaf.Issuer.Country[0]
	}
	if len(leaf.Issuer.Organization) == 0 || strings.TrimSpace(leaf.Issuer.Organization[0]) == "" {
		out.ErrKind = domain.CertErrMissingField
		out.Detail = "issuer organization is empty"
		return out
	}
	out.Issuer = leaf.Issuer.Organization[0]
	return out
}
