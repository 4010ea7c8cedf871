package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/observability/metrics"
)

type fakeEndpoint struct {
	rate    int
	updates atomic.Int32
	stopAt  int32
	once    sync.Once
	done    chan struct{}
}

func newFake(rate int, stopAt int32) *fakeEndpoint {
	return &fakeEndpoint{rate: rate, stopAt: stopAt, done: make(chan struct{})}
}

func (f *fakeEndpoint) Update(context.Context) error {
	if f.updates.Add(1) == f.stopAt {
		f.Shutdown()
	}
	return nil
}

func (f *fakeEndpoint) Shutdown()             { f.once.Do(func() { close(f.done) }) }
func (f *fakeEndpoint) Done() <-chan struct{} { return f.done }
func (f *fakeEndpoint) TickRate() int         { return f.rate }

func TestRunStopsWhenEndpointShutsDown(t *testing.T) {
	f := newFake(100, 3)
	require.NoError(t, Run(context.Background(), f, log.Nop()))
	assert.Equal(t, int32(3), f.updates.Load())
}

func TestRunCallsHooksBeforeUpdate(t *testing.T) {
	f := newFake(100, 2)
	var seen []int32
	hook := func() error {
		seen = append(seen, f.updates.Load())
		return nil
	}
	require.NoError(t, Run(context.Background(), f, log.Nop(), hook))
	assert.Equal(t, []int32{0, 1}, seen)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFake(100, -1)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	require.NoError(t, Run(ctx, f, log.Nop()))
	select {
	case <-f.Done():
	default:
		t.Fatal("endpoint was not shut down")
	}
}

func TestRunRejectsZeroRate(t *testing.T) {
	assert.ErrorIs(t, Run(context.Background(), newFake(0, 1), log.Nop()), ErrInvalidTickRate)
}

func TestHTTPServerRoutes(t *testing.T) {
	m := metrics.NewEndpoint("server")
	m.Received(3)
	s, err := NewHTTPServer(":0", m, func() any { return map[string]int{"peers": 2} }, log.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `messages_received_total{role="server"} 3`)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.JSONEq(t, `{"peers":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = NewHTTPServer(":0", nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoMetrics)
}

func TestHTTPServerServeStopsWithContext(t *testing.T) {
	s, err := NewHTTPServer("127.0.0.1:0", metrics.NewEndpoint("client"), nil, log.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
