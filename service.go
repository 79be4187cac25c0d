package objectplugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"connectrpc.com/connect"
	"go.uber.org/zap"
)

const (
	// ObjectServiceName is the fully-qualified name of the object service.
	ObjectServiceName = "objectplugin.v1.ObjectService"

	// StartSessionProcedure opens a session.
	StartSessionProcedure = "/objectplugin.v1.ObjectService/StartSession"

	// CloseSessionProcedure ends a session.
	CloseSessionProcedure = "/objectplugin.v1.ObjectService/CloseSession"

	// FetchProcedure serializes one object.
	FetchProcedure = "/objectplugin.v1.ObjectService/Fetch"

	// MessageStreamProcedure opens a bidirectional stream to one object.
	MessageStreamProcedure = "/objectplugin.v1.ObjectService/MessageStream"

	// SessionHeader carries the session ID on every call but StartSession.
	SessionHeader = "X-Object-Session"
)

// Stream directions, as reported in metrics.
const (
	directionToClient   = "server_to_client"
	directionFromClient = "client_to_server"
)

// ObjectService serves registered object types to client sessions.
type ObjectService struct {
	registry   *Registry
	scope      *Scope
	sessions   *sessionManager
	metrics    *Metrics
	logger     *zap.Logger
	limiter    *RateLimiter
	sendBuffer int
}

// ObjectServiceHandler returns the path and handler for the object service.
func ObjectServiceHandler(svc *ObjectService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(wireCodec{}),
		connect.WithRecover(svc.recoverHandler),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(StartSessionProcedure, connect.NewUnaryHandler(StartSessionProcedure, svc.StartSession, opts...))
	mux.Handle(CloseSessionProcedure, connect.NewUnaryHandler(CloseSessionProcedure, svc.CloseSession, opts...))
	mux.Handle(FetchProcedure, connect.NewUnaryHandler(FetchProcedure, svc.Fetch, opts...))
	mux.Handle(MessageStreamProcedure, withRequestBody(
		connect.NewBidiStreamHandler(MessageStreamProcedure, svc.MessageStream, opts...)))
	return "/" + ObjectServiceName + "/", mux
}

type requestBodyKey struct{}

// withRequestBody makes the request body reachable from the stream
// handler's context.
func withRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestBodyKey{}, r.Body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// closeRequestBody closes the body stored by withRequestBody, unblocking
// a pending Receive. It reports whether there was a body to close.
func closeRequestBody(ctx context.Context) bool {
	body, ok := ctx.Value(requestBodyKey{}).(io.Closer)
	if !ok || body == nil {
		return false
	}
	_ = body.Close()
	return true
}

// StartSession opens a new export context for the caller.
func (s *ObjectService) StartSession(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[SessionInfo], error) {
	sess, err := s.sessions.create()
	if err != nil {
		return nil, connect.NewError(connect.CodeResourceExhausted, err)
	}
	s.logger.Debug("session started", zap.String("session", sess.ID()))
	return connect.NewResponse(&SessionInfo{ID: sess.ID()}), nil
}

// CloseSession ends the caller's session and closes its streams.
func (s *ObjectService) CloseSession(
	ctx context.Context,
	req *connect.Request[Empty],
) (*connect.Response[Empty], error) {
	id := req.Header().Get(SessionHeader)
	if err := s.sessions.close(id); err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if s.limiter != nil {
		s.limiter.Forget(id)
	}
	s.logger.Debug("session closed", zap.String("session", id))
	return connect.NewResponse(&Empty{}), nil
}

// Fetch serializes the target object with its fetch-only object type.
// Every reference the object type mints is exported into the session.
func (s *ObjectService) Fetch(
	ctx context.Context,
	req *connect.Request[FetchRequest],
) (*connect.Response[FetchResponse], error) {
	sess, err := s.session(req.Header())
	if err != nil {
		return nil, err
	}

	target := req.Msg.Target
	obj, ot, err := s.resolveTarget(sess, target)
	if err != nil {
		s.metrics.fetched("", err)
		return nil, err
	}

	fetch, ok := ot.(FetchOnlyObjectType)
	if !ok {
		err := connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("%w: %s (%s)", ErrNotFetchable, target, ot.Name()))
		s.metrics.fetched(ot.Name(), err)
		return nil, err
	}

	exporter := NewExporter(NewReferenceTable(s.registry))
	payload, err := ToBytes(fetch, exporter, obj)
	if err != nil {
		s.logger.Warn("fetch failed",
			zap.String("type", ot.Name()),
			zap.Stringer("target", target),
			zap.Error(err))
		err = handlerError(err)
		s.metrics.fetched(ot.Name(), err)
		return nil, err
	}

	exported := exporter.Exported()
	s.metrics.exported("fetch", len(exported))
	s.metrics.fetched(ot.Name(), nil)
	return connect.NewResponse(&FetchResponse{
		Type:       ot.Name(),
		Payload:    payload,
		References: exportToSession(sess, exported),
	}), nil
}

// MessageStream attaches the caller to the target object. The first
// request must set Open; the object type's initial message is sent before
// any client message is delivered.
func (s *ObjectService) MessageStream(
	ctx context.Context,
	stream *connect.BidiStream[StreamRequest, StreamResponse],
) error {
	sess, err := s.session(stream.RequestHeader())
	if err != nil {
		return err
	}

	first, err := stream.Receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if first.Open == nil {
		return connect.NewError(connect.CodeInvalidArgument,
			errors.New("first stream message must open an object"))
	}

	target := *first.Open
	obj, ot, err := s.resolveTarget(sess, target)
	if err != nil {
		return err
	}
	bidi, ok := streamingTypeFor(ot, obj, s.registry)
	if !ok {
		return connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("%w: %s (%s)", ErrNotStreamable, target, ot.Name()))
	}

	out := make(chan *StreamResponse, s.sendBuffer)
	errs := make(chan error, 2)
	toClient := &clientConn{
		ctx:      ctx,
		sess:     sess,
		exporter: NewExporter(NewReferenceTable(s.registry)),
		out:      out,
		errs:     errs,
		metrics:  s.metrics,
	}
	conn := NewGuardedStream(toClient)
	if !sess.attach(conn) {
		return connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID()))
	}
	defer sess.detach(conn)

	// The pump runs before the object type is attached so that initial
	// messages never wait on a full queue.
	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- PumpToStream(ctx, out, errs, stream.Send)
	}()

	fromClient, err := bidi.CreateClientConnection(obj, conn)
	if err != nil {
		conn.OnClose()
		<-pumpErr
		s.logger.Warn("create client connection failed",
			zap.String("type", ot.Name()),
			zap.Stringer("target", target),
			zap.Error(err))
		return handlerError(err)
	}
	if fromClient == nil {
		fromClient = StreamFuncs{}
	}
	in := NewGuardedStream(fromClient)
	Link(conn, in)
	defer in.OnClose()

	if toClient.sent.Load() == 0 {
		in.OnClose()
		<-pumpErr
		s.logger.Error("object type sent no initial message", zap.String("type", ot.Name()))
		return connect.NewError(connect.CodeInternal,
			fmt.Errorf("object type %q sent no initial message", ot.Name()))
	}

	s.metrics.streamOpened(ot.Name())
	defer s.metrics.streamClosed(ot.Name())
	s.logger.Debug("stream opened",
		zap.String("session", sess.ID()),
		zap.String("type", ot.Name()),
		zap.Stringer("target", target))

	received := make(chan struct{})
	go func() {
		defer close(received)
		s.receive(sess, stream, in, errs)
	}()

	err = <-pumpErr
	// Receive only returns once the request body is closed, so close it
	// before waiting when the server ends the stream first.
	if closeRequestBody(ctx) {
		<-received
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("stream ended", zap.String("type", ot.Name()), zap.Error(err))
	}
	return err
}

// receive delivers client messages to in, in arrival order, until the
// client closes its side or a message cannot be delivered.
func (s *ObjectService) receive(
	sess *Session,
	stream *connect.BidiStream[StreamRequest, StreamResponse],
	in *GuardedStream,
	errs chan<- error,
) {
	defer in.OnClose()

	for {
		req, err := stream.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				signal(errs, err)
			}
			return
		}
		if req.Open != nil {
			signal(errs, connect.NewError(connect.CodeInvalidArgument, errors.New("stream is already open")))
			return
		}

		objects := make([]any, len(req.References))
		for i, ticket := range req.References {
			obj, err := sess.Resolve(ticket)
			if err != nil {
				signal(errs, connect.NewError(connect.CodeNotFound, err))
				return
			}
			objects[i] = obj
		}

		s.metrics.streamMessage(directionFromClient)
		if err := in.OnData(req.Payload, objects); err != nil {
			signal(errs, handlerError(err))
			return
		}
	}
}

// session returns the session named by the request headers.
func (s *ObjectService) session(header http.Header) (*Session, error) {
	sess, err := s.sessions.get(header.Get(SessionHeader))
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return sess, nil
}

// resolveTarget finds the target object and its object type.
func (s *ObjectService) resolveTarget(sess *Session, target ObjectTarget) (any, ObjectType, error) {
	var (
		obj any
		err error
	)
	if target.ByTicket {
		obj, err = sess.Resolve(target.Ticket)
	} else {
		obj, err = s.scope.Lookup(target.Name)
	}
	if err != nil {
		return nil, nil, connect.NewError(connect.CodeNotFound, err)
	}

	ot := s.registry.FindObjectType(obj)
	if ot == nil {
		return nil, nil, connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("%w: %s (%T)", ErrNoObjectType, target, obj))
	}
	return obj, ot, nil
}

func (s *ObjectService) recoverHandler(ctx context.Context, spec connect.Spec, header http.Header, r any) error {
	s.logger.Error("object type panicked",
		zap.String("procedure", spec.Procedure),
		zap.Any("panic", r))
	return connect.NewError(connect.CodeInternal, fmt.Errorf("panic: %v", r))
}

// exportToSession gives each exported object a session ticket.
func exportToSession(sess *Session, exported []ExportedObject) []TypedTicket {
	if len(exported) == 0 {
		return nil
	}
	refs := make([]TypedTicket, len(exported))
	for i, e := range exported {
		ticket, _ := sess.Export(e.Object)
		refs[i] = TypedTicket{
			Index:  uint32(e.Reference.Index),
			Type:   e.Reference.Type,
			Ticket: ticket,
		}
	}
	return refs
}

// handlerError maps an object type's error to a Connect error. Connect
// errors returned by object types pass through untouched.
func handlerError(err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	switch {
	case errors.Is(err, ErrIncompatibleObject), errors.Is(err, ErrNotStreamable), errors.Is(err, ErrNotFetchable):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrUnknownTicket), errors.Is(err, ErrUnknownObject):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// clientConn is the server-to-client direction of one message stream.
// Each message's references are minted into the stream's table (indices
// count from the start of the stream) and exported into the session.
type clientConn struct {
	ctx      context.Context
	sess     *Session
	exporter *TableExporter
	out      chan<- *StreamResponse
	errs     chan<- error
	metrics  *Metrics
	sent     atomic.Int64
}

// Exporter implements ExportingStream.
func (c *clientConn) Exporter() *TableExporter {
	return c.exporter
}

func (c *clientConn) OnData(payload []byte, references []any) error {
	exported := make([]ExportedObject, len(references))
	for i, r := range references {
		if e, ok := r.(ExportedObject); ok {
			exported[i] = e
			continue
		}
		ref, _ := c.exporter.Ship(r, AllowUnknownType())
		exported[i] = ExportedObject{Reference: ref, Object: r}
	}

	resp := &StreamResponse{
		Payload:    cloneBytes(payload),
		References: exportToSession(c.sess, exported),
	}
	c.metrics.exported("stream", len(exported))

	select {
	case c.out <- resp:
		c.sent.Add(1)
		c.metrics.streamMessage(directionToClient)
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *clientConn) OnClose() {
	signal(c.errs, nil)
}
