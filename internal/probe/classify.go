package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"

	"sitewatch/internal/domain"
)

// classifyErr maps a transport error to an ErrorKind. Timeouts are checked
// first because a DNS lookup or dial can also time out.
func classifyErr(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrKindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrKindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.ErrKindDNS
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return domain.ErrKindRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return domain.ErrKindReset
	}

	var (
		certErr    *tls.CertificateVerificationError
		recErr     tls.RecordHeaderError
		alertErr   tls.AlertError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &certErr) || errors.As(err, &recErr) || errors.As(err, &alertErr) ||
		errors.As(err, &unknownCA) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return domain.ErrKindTLS
	}
	if strings.Contains(err.Error(), "tls: ") {
		return domain.ErrKindTLS
	}
	return domain.ErrKindNetwork
}
