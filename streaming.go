package objectplugin

import (
	"context"
)

// PumpToStream sends channel values with send until the stream ends.
//
// Contract:
//   - ch: queued messages, sent in order
//   - errs: terminal signal; a nil value is a clean close
//   - send: stream send function (e.g. connect.BidiStream.Send)
//
// Returns:
//   - the value received from errs, after every message already queued in
//     ch has been sent
//   - nil when ch is closed
//   - ctx.Err() if context is cancelled
//   - send's error if sending fails
func PumpToStream[T any](
	ctx context.Context,
	ch <-chan T,
	errs <-chan error,
	send func(T) error,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errs:
			if flushErr := flushQueued(ch, send); flushErr != nil {
				return flushErr
			}
			return err

		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(msg); err != nil {
				return err
			}
		}
	}
}

// flushQueued sends whatever is already buffered in ch without waiting.
func flushQueued[T any](ch <-chan T, send func(T) error) error {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// signal delivers err to errs without blocking. Only the first signals fit.
func signal(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
