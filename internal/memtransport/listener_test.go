package memtransport_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/masegraye/object-plugin-go/internal/memtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve runs handler on ln the way the object server does: HTTP/1 plus
// cleartext HTTP/2.
func serve(t *testing.T, ln *memtransport.Listener, handler http.Handler) {
	t.Helper()
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{Handler: handler, Protocols: &protocols}
	go srv.Serve(ln)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		_ = ln.Close()
	})
}

func TestRoundTripUsesHTTP2(t *testing.T) {
	ln := memtransport.New()
	serve(t, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Proto", r.Proto)
		fmt.Fprintf(w, "%s %s", r.URL.Path, body)
	}))

	resp, err := ln.HTTPClient().Post(memtransport.Endpoint+"/echo", "text/plain", strings.NewReader("ping"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "/echo ping", string(body))
	assert.Equal(t, 2, resp.ProtoMajor)
	assert.Equal(t, "HTTP/2.0", resp.Header.Get("X-Proto"))
}

func TestConcurrentRequests(t *testing.T) {
	ln := memtransport.New()
	serve(t, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Query().Get("n"))
	}))
	client := ln.HTTPClient()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := client.Get(fmt.Sprintf("%s/?n=%d", memtransport.Endpoint, n))
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != fmt.Sprint(n) {
				errs <- fmt.Errorf("request %d got %q", n, body)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClose(t *testing.T) {
	ln := memtransport.New()
	require.NoError(t, ln.Close())
	require.NoError(t, ln.Close())

	_, err := ln.Accept()
	assert.ErrorIs(t, err, memtransport.ErrClosed)

	_, err = ln.DialContext(context.Background(), "tcp", "mem")
	assert.ErrorIs(t, err, memtransport.ErrClosed)
}

func TestDialContext_WaitsForAccept(t *testing.T) {
	ln := memtransport.New()
	defer ln.Close()

	// Fill the accept queue.
	for i := 0; i < 16; i++ {
		conn, err := ln.DialContext(context.Background(), "tcp", "mem")
		require.NoError(t, err)
		defer conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ln.DialContext(ctx, "tcp", "mem")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialContext_PipesToAccept(t *testing.T) {
	ln := memtransport.New()
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := ln.DialContext(context.Background(), "tcp", "mem")
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	go func() { _, _ = client.Write([]byte("hi")) }()
	buf := make([]byte, 2)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
	assert.Equal(t, "mem", ln.Addr().Network())
}
