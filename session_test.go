package objectplugin

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ExportAndResolve(t *testing.T) {
	sess := newSession("sess-01", testResolver())
	obj := &leaf{value: "x"}

	ticket, ref := sess.Export(obj)
	again, _ := sess.Export(obj)
	other, unknown := sess.Export(3.5)

	assert.Equal(t, uint32(0), ticket)
	assert.Equal(t, "test.Leaf", ref.Type)
	assert.Equal(t, ticket, again)
	assert.Equal(t, uint32(1), other)
	assert.False(t, unknown.HasType())
	assert.Equal(t, 2, sess.ExportCount())

	resolved, err := sess.Resolve(ticket)
	require.NoError(t, err)
	assert.Same(t, obj, resolved)

	_, err = sess.Resolve(99)
	assert.ErrorIs(t, err, ErrUnknownTicket)
}

func TestSession_CloseClosesStreams(t *testing.T) {
	sess := newSession("sess-01", nil)
	rec := &recorder{}
	stream := NewGuardedStream(rec)
	require.True(t, sess.attach(stream))

	sess.close()
	sess.close()

	assert.True(t, stream.Closed())
	assert.Equal(t, 1, rec.closeCount())
	assert.False(t, sess.attach(NewGuardedStream(&recorder{})), "closed sessions accept no streams")
}

func TestSessionManager(t *testing.T) {
	m := newSessionManager(testResolver(), 2, NewMetrics())

	a, err := m.create()
	require.NoError(t, err)
	b, err := m.create()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NoError(t, ValidateSessionID(a.ID()))

	_, err = m.create()
	assert.ErrorIs(t, err, ErrTooManySessions)

	got, err := m.get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = m.get("../etc/passwd")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.get("sess-ffff")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.close(a.ID()))
	assert.ErrorIs(t, m.close(a.ID()), ErrSessionNotFound)
	assert.Equal(t, 1, m.count())

	m.closeAll()
	assert.Equal(t, 0, m.count())
}

func TestScope(t *testing.T) {
	scope := NewScope()
	obj := &leaf{value: "x"}

	require.NoError(t, scope.Publish("b", obj))
	require.NoError(t, scope.Publish("a", 1))
	assert.Error(t, scope.Publish("", obj))

	got, err := scope.Lookup("b")
	require.NoError(t, err)
	assert.Same(t, obj, got)
	assert.Equal(t, []string{"a", "b"}, scope.Names())

	scope.Remove("b")
	_, err = scope.Lookup("b")
	assert.ErrorIs(t, err, ErrUnknownObject)
}

func TestSessionManager_CapHoldsUnderConcurrentCreate(t *testing.T) {
	m := newSessionManager(testResolver(), 1, NewMetrics())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := m.create(); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrTooManySessions)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, m.count())
}
