package probe

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"syscall"
	"testing"
	"time"

	"sitewatch/internal/domain"
	logx "sitewatch/pkg/logx"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"example.com", "https://example.com"},
		{"  example.com/path ", "https://example.com/path"},
		{"http://example.com", "http://example.com"},
		{"https://example.com", "https://example.com"},
		{"HTTPS://Example.com", "HTTPS://Example.com"},
		{"ftp://example.com", "https://ftp://example.com"},
	}
	for _, tt := range tests {
		got := NormalizeURL(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := NormalizeURL(got); again != got {
			t.Errorf("NormalizeURL not idempotent for %q: %q -> %q", tt.in, got, again)
		}
	}
}

func TestValidateURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com", want: "https://example.com"},
		{in: "HTTP://Example.COM:80/a/#frag", want: "http://example.com/a"},
		{in: "https://example.com:443/", want: "https://example.com"},
		{in: "Example.com/", want: "https://example.com"},
		{in: "https://example.com:8443/x", want: "https://example.com:8443/x"},
		{in: "", wantErr: true},
		{in: "https://", wantErr: true},
		{in: "exa mple.com", wantErr: true},
		{in: "ftp://example.com", wantErr: true},
		{in: "https://user:pw@example.com", wantErr: true},
		{in: "https://a..b", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ValidateURL(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("ValidateURL(%q) err = %v, want ErrInvalidURL", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateURL(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newTestProber(cfg Config) *Prober {
	if cfg.CertPort == "" {
		cfg.CertPort = "1" // nothing listens there; keeps tests offline
	}
	if cfg.CertTimeout == 0 {
		cfg.CertTimeout = time.Second
	}
	return New(cfg, logx.Nop())
}

func TestCheckStatusClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		want   domain.Outcome
	}{
		{"ok", http.StatusOK, domain.OutcomeUp},
		{"no content", http.StatusNoContent, domain.OutcomeUp},
		{"not modified", http.StatusNotModified, domain.OutcomeUp},
		{"not found", http.StatusNotFound, domain.OutcomeDown},
		{"server error", http.StatusInternalServerError, domain.OutcomeDown},
		{"unavailable", http.StatusServiceUnavailable, domain.OutcomeDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			res := newTestProber(Config{Timeout: 2 * time.Second}).Check(context.Background(), srv.URL)
			if res.Outcome != tt.want {
				t.Fatalf("Outcome = %q, want %q (%+v)", res.Outcome, tt.want, res)
			}
			if res.HTTPStatus != tt.status {
				t.Fatalf("HTTPStatus = %d, want %d", res.HTTPStatus, tt.status)
			}
			if res.CheckedAt.IsZero() {
				t.Fatal("CheckedAt not set")
			}
		})
	}
}

func TestCheckHangBecomesTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	res := newTestProber(Config{Timeout: 150 * time.Millisecond}).Check(context.Background(), srv.URL)
	if res.Outcome != domain.OutcomeTimeout {
		t.Fatalf("Outcome = %q, want timeout (%+v)", res.Outcome, res)
	}
	if res.ErrorKind != domain.ErrKindTimeout {
		t.Fatalf("ErrorKind = %q, want timeout", res.ErrorKind)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("probe was not abandoned at the timeout: %v", elapsed)
	}
}

func TestCheckConnectionRefused(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	res := newTestProber(Config{Timeout: 2 * time.Second}).Check(context.Background(), "http://"+addr)
	if res.Outcome != domain.OutcomeNetworkError {
		t.Fatalf("Outcome = %q, want network_error (%+v)", res.Outcome, res)
	}
	if res.ErrorKind != domain.ErrKindRefused {
		t.Fatalf("ErrorKind = %q, want connection_refused", res.ErrorKind)
	}
	if res.HTTPStatus != 0 {
		t.Fatalf("HTTPStatus = %d, want 0", res.HTTPStatus)
	}
}

func TestCheckRedirectCapUsesLastResponse(t *testing.T) {
	t.Parallel()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
	}))
	defer srv.Close()

	res := newTestProber(Config{Timeout: 2 * time.Second, MaxRedirects: 3}).Check(context.Background(), srv.URL)
	if res.HTTPStatus != http.StatusFound {
		t.Fatalf("HTTPStatus = %d, want 302", res.HTTPStatus)
	}
	if res.Outcome != domain.OutcomeUp {
		t.Fatalf("Outcome = %q, want up for a 3xx", res.Outcome)
	}
}

func tlsPort(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return u.Port()
}

func TestCertChannelIndependentOfStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	p := newTestProber(Config{Timeout: 2 * time.Second, InsecureSkipVerify: true, CertPort: tlsPort(t, srv), RootCAs: pool})
	res := p.Check(context.Background(), srv.URL)
	if res.Outcome != domain.OutcomeDown || res.HTTPStatus != 500 {
		t.Fatalf("http channel = %q/%d, want down/500", res.Outcome, res.HTTPStatus)
	}
	if !res.Cert.OK() {
		t.Fatalf("cert channel failed: %+v", res.Cert)
	}
	if res.Cert.Issuer != "Acme Co" {
		t.Fatalf("Issuer = %q, want Acme Co", res.Cert.Issuer)
	}
	if res.Cert.NotAfter.IsZero() {
		t.Fatal("NotAfter not set")
	}
}

func TestCertUntrustedIsHandshakeError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := newTestProber(Config{Timeout: 2 * time.Second, InsecureSkipVerify: true, CertPort: tlsPort(t, srv), RootCAs: x509.NewCertPool()})
	res := p.Check(context.Background(), srv.URL)
	if res.Outcome != domain.OutcomeUp {
		t.Fatalf("status check must skip verification, got %q", res.Outcome)
	}
	if res.Cert.ErrKind != domain.CertErrHandshake {
		t.Fatalf("Cert.ErrKind = %q, want handshake", res.Cert.ErrKind)
	}
	if res.Cert.Issuer != "" {
		t.Fatalf("Issuer should be empty on failure, got %q", res.Cert.Issuer)
	}
}

func TestStrictVerificationFailsStatusCheck(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	res := newTestProber(Config{Timeout: 2 * time.Second, InsecureSkipVerify: false}).Check(context.Background(), srv.URL)
	if res.Outcome != domain.OutcomeNetworkError || res.ErrorKind != domain.ErrKindTLS {
		t.Fatalf("got %q/%q, want network_error/tls", res.Outcome, res.ErrorKind)
	}
}

func TestInspectReportsAuxiliaryPaths(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "User-agent: *") })
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	info := newTestProber(Config{Timeout: 2 * time.Second}).Inspect(context.Background(), srv.URL+"/some/page")
	if info.Status != 200 || info.Outcome != domain.OutcomeUp {
		t.Fatalf("status = %d/%q", info.Status, info.Outcome)
	}
	if info.RobotsStatus != 200 {
		t.Fatalf("RobotsStatus = %d, want 200", info.RobotsStatus)
	}
	if info.SitemapStatus != 404 {
		t.Fatalf("SitemapStatus = %d, want 404", info.SitemapStatus)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"nil", nil, domain.ErrKindNone},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), domain.ErrKindTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, domain.ErrKindTimeout},
		{"dns", &url.Error{Op: "Get", URL: "https://x.invalid", Err: &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}}, domain.ErrKindDNS},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, domain.ErrKindRefused},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, domain.ErrKindReset},
		{"tls text", errors.New("remote error: tls: handshake failure"), domain.ErrKindTLS},
		{"unknown authority", x509.UnknownAuthorityError{}, domain.ErrKindTLS},
		{"other", errors.New("EOF"), domain.ErrKindNetwork},
	}
	for _, tt := range tests {
		if got := classifyErr(tt.err); got != tt.want {
			t.Errorf("%s: classifyErr = %q, want %q", tt.name, got, tt.want)
		}
	}
}
