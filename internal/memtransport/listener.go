// Package memtransport connects an object server and its clients inside one
// process. Connections are net.Pipe pairs and speak cleartext HTTP/2, so
// message streams work as they do over TCP.
//
//	ln := memtransport.New()
//	server, _ := objectplugin.NewServer(objectplugin.ServeConfig{Listener: ln, ...})
//	_ = server.Start(ctx)
//
//	client, _ := objectplugin.NewClient(objectplugin.ClientConfig{
//	    Endpoint:   memtransport.Endpoint,
//	    HTTPClient: ln.HTTPClient(),
//	})
package memtransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
)

// Endpoint is the base URL clients use with a Listener. The host is
// ignored by the dialer.
const Endpoint = "http://mem"

// ErrClosed is returned by a closed Listener.
var ErrClosed = errors.New("memtransport: listener closed")

// Listener is a net.Listener whose connections are dialed in process.
type Listener struct {
	conns  chan net.Conn
	once   sync.Once
	closed chan struct{}
}

// New returns an open Listener.
func New() *Listener {
	return &Listener{
		conns:  make(chan net.Conn, 16),
		closed: make(chan struct{}),
	}
}

// Accept returns the server end of the next dialed connection.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, ErrClosed
	}
}

// Close stops Accept and DialContext. It is safe to call more than once.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closed)
	})
	return nil
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr {
	return memAddr{}
}

// DialContext hands one end of a new pipe to Accept and returns the other.
// Its signature matches http.Transport.DialContext.
func (l *Listener) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, ErrClosed
	default:
	}

	server, client := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		server.Close()
		client.Close()
		return nil, ErrClosed
	case <-ctx.Done():
		server.Close()
		client.Close()
		return nil, ctx.Err()
	}
}

// Transport returns a transport that dials l and speaks HTTP/2 with prior
// knowledge.
func (l *Listener) Transport() *http.Transport {
	var protocols http.Protocols
	protocols.SetUnencryptedHTTP2(true)
	return &http.Transport{
		DialContext: l.DialContext,
		Protocols:   &protocols,
	}
}

// HTTPClient returns an HTTP client that dials l.
func (l *Listener) HTTPClient() *http.Client {
	return &http.Client{Transport: l.Transport()}
}

type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "mem" }
