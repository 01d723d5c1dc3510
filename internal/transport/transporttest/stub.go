// Package transporttest provides in-memory HTTP endpoints for tests.
package transporttest

import (
	"net"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"yqhp/load-engine/internal/transport"
)

// BaseURL is the URL prefix every stub serves; the host is never resolved.
const BaseURL = "http://stub.local"

// Stub is a fasthttp server listening on an in-memory listener.
type Stub struct {
	ln     *fasthttputil.InmemoryListener
	server *fasthttp.Server
	done   chan struct{}
}

// NewStub starts serving handler. Call Close when done.
func NewStub(handler fasthttp.RequestHandler) *Stub {
	s := &Stub{
		ln:     fasthttputil.NewInmemoryListener(),
		server: &fasthttp.Server{Handler: handler},
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = s.server.Serve(s.ln)
	}()
	return s
}

// Dial connects to the stub regardless of addr.
func (s *Stub) Dial(_ string) (net.Conn, error) {
	return s.ln.Dial()
}

// Transport returns a transport wired to the stub.
func (s *Stub) Transport(cfg transport.Config) *transport.FastHTTP {
	cfg.Dial = s.Dial
	return transport.NewFastHTTP(cfg)
}

// Close stops the server.
func (s *Stub) Close() {
	_ = s.ln.Close()
	<-s.done
}
