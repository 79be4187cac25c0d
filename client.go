package objectplugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"go.uber.org/zap"
)

// ClientConfig configures an object client.
type ClientConfig struct {
	// Endpoint is the object server URL.
	// Required. Examples: "http://localhost:8080", "https://objects.example.com"
	Endpoint string

	// HTTPClient carries the RPCs. It must speak HTTP/2 for streams.
	// Default: an HTTP/2 client that uses h2c for http:// endpoints.
	HTTPClient connect.HTTPClient

	// Retry retries unary calls. Nil disables retries.
	Retry *RetryPolicy

	// CircuitBreaker stops unary calls to a failing server. A call counts
	// once however often it is retried. Nil disables the breaker.
	CircuitBreaker *CircuitBreakerConfig

	// Logger receives client logs. Default: zap.NewNop().
	Logger *zap.Logger

	// Options are passed to every Connect client.
	Options []connect.ClientOption
}

// Validate checks ClientConfig for errors.
func (cfg *ClientConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("%w: Endpoint is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return fmt.Errorf("%w: Endpoint must be an http:// or https:// URL", ErrInvalidConfig)
	}
	if cfg.Retry != nil && cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: Retry.MaxAttempts must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Client is a session with an object server. The session starts on the
// first call; tickets returned by one Client are only valid on it.
type Client struct {
	cfg     ClientConfig
	logger  *zap.Logger
	breaker *CircuitBreaker

	startSession *connect.Client[Empty, SessionInfo]
	closeSession *connect.Client[Empty, Empty]
	fetch        *connect.Client[FetchRequest, FetchResponse]
	stream       *connect.Client[StreamRequest, StreamResponse]

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewClient creates a new object client with the given configuration.
// The client uses a lazy session: nothing is sent until the first call.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTP2Client()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	opts := append([]connect.ClientOption{connect.WithCodec(wireCodec{})}, cfg.Options...)

	var breaker *CircuitBreaker
	if cfg.CircuitBreaker != nil {
		bcfg := *cfg.CircuitBreaker
		logger := cfg.Logger
		onChange := bcfg.OnStateChange
		bcfg.OnStateChange = func(from, to CircuitState) {
			logger.Info("circuit breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
				zap.String("endpoint", endpoint))
			if onChange != nil {
				onChange(from, to)
			}
		}
		breaker = NewCircuitBreaker(bcfg)
		opts = append(opts, connect.WithInterceptors(CircuitBreakerInterceptor(breaker)))
	}
	if cfg.Retry != nil {
		opts = append(opts, connect.WithInterceptors(RetryInterceptor(*cfg.Retry)))
	}

	return &Client{
		cfg:          cfg,
		logger:       cfg.Logger,
		breaker:      breaker,
		startSession: connect.NewClient[Empty, SessionInfo](cfg.HTTPClient, endpoint+StartSessionProcedure, opts...),
		closeSession: connect.NewClient[Empty, Empty](cfg.HTTPClient, endpoint+CloseSessionProcedure, opts...),
		fetch:        connect.NewClient[FetchRequest, FetchResponse](cfg.HTTPClient, endpoint+FetchProcedure, opts...),
		stream:       connect.NewClient[StreamRequest, StreamResponse](cfg.HTTPClient, endpoint+MessageStreamProcedure, opts...),
	}, nil
}

// Breaker returns the client's circuit breaker, or nil if it has none.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Session starts the session if needed and returns its ID.
func (c *Client) Session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClientClosed
	}
	if c.sessionID != "" {
		return c.sessionID, nil
	}

	resp, err := c.startSession.CallUnary(ctx, connect.NewRequest(&Empty{}))
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	c.sessionID = resp.Msg.ID
	c.logger.Debug("session started", zap.String("session", c.sessionID))
	return c.sessionID, nil
}

// Fetch serializes the object published under name.
func (c *Client) Fetch(ctx context.Context, name string) (*FetchResponse, error) {
	return c.FetchTarget(ctx, NameTarget(name))
}

// FetchTicket serializes an object previously exported to this client.
func (c *Client) FetchTicket(ctx context.Context, ticket uint32) (*FetchResponse, error) {
	return c.FetchTarget(ctx, TicketTarget(ticket))
}

// FetchTarget serializes the target object.
func (c *Client) FetchTarget(ctx context.Context, target ObjectTarget) (*FetchResponse, error) {
	id, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}

	req := connect.NewRequest(&FetchRequest{Target: target})
	req.Header().Set(SessionHeader, id)
	resp, err := c.fetch.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Connect opens a message stream to the target object. The first
// Receive returns the object's initial message.
func (c *Client) Connect(ctx context.Context, target ObjectTarget) (*ClientStream, error) {
	id, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}

	stream := c.stream.CallBidiStream(ctx)
	stream.RequestHeader().Set(SessionHeader, id)
	open := target
	// An error wrapping io.EOF means the server already answered; Receive
	// reports why.
	if err := stream.Send(&StreamRequest{Open: &open}); err != nil && !errors.Is(err, io.EOF) {
		_ = stream.CloseRequest()
		_ = stream.CloseResponse()
		return nil, fmt.Errorf("open stream %s: %w", target, err)
	}
	return &ClientStream{stream: stream}, nil
}

// Close ends the session. Streams opened by the client are closed by the
// server.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sessionID == "" {
		return nil
	}
	req := connect.NewRequest(&Empty{})
	req.Header().Set(SessionHeader, c.sessionID)
	if _, err := c.closeSession.CallUnary(ctx, req); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// ClientStream is the client end of a message stream.
type ClientStream struct {
	stream *connect.BidiStreamForClient[StreamRequest, StreamResponse]

	sendMu     sync.Mutex
	sendClosed bool
	closeOnce  sync.Once
	closeErr   error
}

// Send sends payload to the object together with the objects named by
// tickets. Tickets must come from this client's session.
func (s *ClientStream) Send(payload []byte, tickets ...uint32) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(&StreamRequest{Payload: payload, References: tickets})
}

// Receive blocks for the next message from the object. It returns an
// error wrapping io.EOF once the server closes the stream cleanly.
func (s *ClientStream) Receive() (*StreamResponse, error) {
	return s.stream.Receive()
}

// CloseSend half-closes the stream: the object sees the stream close, and
// messages already queued by the server can still be received.
func (s *ClientStream) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.stream.CloseRequest()
}

// Close closes both directions of the stream.
func (s *ClientStream) Close() error {
	s.closeOnce.Do(func() {
		reqErr := s.CloseSend()
		respErr := s.stream.CloseResponse()
		s.closeErr = errors.Join(reqErr, respErr)
	})
	return s.closeErr
}

// newHTTP2Client speaks HTTP/2 only: h2c for http:// URLs and TLS for
// https:// URLs.
func newHTTP2Client() *http.Client {
	var protocols http.Protocols
	protocols.SetHTTP2(true)
	protocols.SetUnencryptedHTTP2(true)
	return &http.Client{
		Transport: &http.Transport{Protocols: &protocols},
	}
}
