package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/valyala/fasthttp"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindDNS        ErrorKind = "dns"
	KindTLS        ErrorKind = "tls"
	KindCancelled  ErrorKind = "cancelled"
	KindInvalid    ErrorKind = "invalid_request"
	KindUnknown    ErrorKind = "unknown"
)

// Error is returned by Transport.Execute when no response was received.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a transport error, KindUnknown for other errors.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// classify 将底层错误映射到错误类型
func classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, fasthttp.ErrTimeout),
		errors.Is(err, fasthttp.ErrDialTimeout),
		errors.Is(err, fasthttp.ErrTLSHandshakeTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &dnsErr):
		return KindDNS
	case errors.As(err, &certErr),
		errors.As(err, &recordErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr):
		return KindTLS
	case errors.Is(err, fasthttp.ErrNoFreeConns),
		errors.Is(err, fasthttp.ErrConnectionClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed):
		return KindConnection
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}
	return KindUnknown
}
