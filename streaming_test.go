package objectplugin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpToStream_SendsInOrder(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	var sent []int
	err := PumpToStream(context.Background(), ch, nil, func(v int) error {
		sent = append(sent, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sent)
}

func TestPumpToStream_FlushesBeforeSignal(t *testing.T) {
	ch := make(chan int, 4)
	errs := make(chan error, 1)
	ch <- 1
	ch <- 2
	errs <- nil

	var sent []int
	err := PumpToStream(context.Background(), ch, errs, func(v int) error {
		sent = append(sent, v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, sent)
}

func TestPumpToStream_ReturnsSignalledError(t *testing.T) {
	errs := make(chan error, 1)
	boom := errors.New("boom")
	signal(errs, boom)
	signal(errs, errors.New("dropped"))

	err := PumpToStream(context.Background(), make(chan int), errs, func(int) error { return nil })
	assert.Same(t, boom, err)
}

func TestPumpToStream_SendError(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 1
	failed := errors.New("send failed")

	err := PumpToStream(context.Background(), ch, nil, func(int) error { return failed })
	assert.ErrorIs(t, err, failed)
}

func TestPumpToStream_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := PumpToStream(ctx, make(chan int), nil, func(int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseRequestBody_UnblocksRead(t *testing.T) {
	body, writer := io.Pipe()
	defer writer.Close()

	handler := withRequestBody(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		readErr := make(chan error, 1)
		go func() {
			_, err := io.ReadAll(r.Body)
			readErr <- err
		}()

		assert.True(t, closeRequestBody(r.Context()))
		select {
		case err := <-readErr:
			assert.ErrorIs(t, err, io.ErrClosedPipe)
		case <-time.After(2 * time.Second):
			t.Error("read still blocked after the body was closed")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", body))

	assert.False(t, closeRequestBody(context.Background()))
}
