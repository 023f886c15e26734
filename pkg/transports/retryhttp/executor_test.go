package retryhttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/vminit/pkg/engine"
)

// statusServer answers with the given statuses in order, repeating the last one.
func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		idx := n - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
		_, _ = w.Write([]byte("body"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testBudget(total time.Duration) Budget {
	return Budget{
		AttemptTimeout: time.Second,
		RetryInterval:  5 * time.Millisecond,
		Remaining:      total,
	}
}

type countingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	durations []time.Duration
}

func (o *countingObserver) HTTPAttempt(_ string, outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
	o.durations = append(o.durations, d)
}

func TestPolicyClassify(t *testing.T) {
	p := Policy{SuccessCodes: []int{200, 201}}

	for _, code := range []int{200, 201} {
		assert.Equal(t, StatusTerminal, p.Classify(code), "status %d", code)
	}
	for _, code := range []int{400, 404, 410, 429, 500, 503} {
		assert.Equal(t, StatusRetryable, p.Classify(code), "status %d", code)
	}
	for _, code := range []int{202, 301, 401, 403, 405, 409, 502, 504} {
		assert.Equal(t, StatusHardFail, p.Classify(code), "status %d", code)
	}

	narrow := Policy{SuccessCodes: []int{200}, RetryCodes: []int{429, 503}}
	assert.Equal(t, StatusHardFail, narrow.Classify(400))
	assert.Equal(t, StatusRetryable, narrow.Classify(429))

	// A success code listed in the retry set is still terminal.
	overlap := Policy{SuccessCodes: []int{404}}
	assert.Equal(t, StatusTerminal, overlap.Classify(404))
}

func TestExecuteSuccessSet(t *testing.T) {
	srv, hits := statusServer(t, http.StatusCreated)
	e := New("test", zerolog.Nop())

	resp, remaining, err := e.Execute(context.Background(),
		Request{Method: http.MethodPost, URL: srv.URL, Body: []byte("{}")},
		Policy{SuccessCodes: []int{200, 201}},
		testBudget(time.Second))

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []byte("body"), resp.Body)
	assert.Equal(t, int32(1), hits.Load())
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, time.Second-5*time.Millisecond)
}

func TestExecuteRetryableThenSuccess(t *testing.T) {
	for _, code := range []int{400, 404, 410, 429, 500, 503} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv, hits := statusServer(t, code, http.StatusOK)
			obs := &countingObserver{}
			e := New("test", zerolog.Nop(), WithObserver(obs))

			resp, _, err := e.Execute(context.Background(), Request{URL: srv.URL}, OK, testBudget(2*time.Second))

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, int32(2), hits.Load())
			assert.Equal(t, []string{OutcomeRetry, OutcomeSuccess}, obs.outcomes)
		})
	}
}

func TestExecuteRemainingAfterRetries(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
	obs := &countingObserver{}
	e := New("test", zerolog.Nop(), WithObserver(obs))
	budget := testBudget(2 * time.Second)

	start := time.Now()
	resp, remaining, err := e.Execute(context.Background(), Request{URL: srv.URL}, OK, budget)
	wall := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), hits.Load())
	require.Len(t, obs.durations, 3)

	// Every attempt, the successful one included, costs its round trip plus one interval.
	expected := budget.Remaining
	for _, d := range obs.durations {
		expected -= d + budget.RetryInterval
	}
	assert.LessOrEqual(t, remaining, expected)
	assert.GreaterOrEqual(t, remaining, budget.Remaining-wall-budget.RetryInterval)
	assert.InDelta(t, float64(expected), float64(remaining), float64(100*time.Millisecond))
}

func TestExecuteHardFail(t *testing.T) {
	for _, code := range []int{401, 403, 405, 418} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv, hits := statusServer(t, code, http.StatusOK)
			e := New("test", zerolog.Nop())

			_, _, err := e.Execute(context.Background(), Request{URL: srv.URL}, OK, testBudget(time.Second))

			require.ErrorIs(t, err, engine.ErrHTTPStatus)
			var classified *engine.Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, code, classified.Status)
			assert.Equal(t, srv.URL, classified.Endpoint)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestExecuteBudgetExhausted(t *testing.T) {
	srv, hits := statusServer(t, http.StatusServiceUnavailable)
	e := New("test", zerolog.Nop())

	start := time.Now()
	_, remaining, err := e.Execute(context.Background(), Request{URL: srv.URL}, OK, testBudget(50*time.Millisecond))

	require.ErrorIs(t, err, engine.ErrTimeout)
	assert.False(t, engine.IsHTTPStatus(err))
	assert.Equal(t, time.Duration(0), remaining)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
	assert.LessOrEqual(t, hits.Load(), int32(10), "each attempt must consume at least one retry interval")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteTransportErrorsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	obs := &countingObserver{}
	e := New("test", zerolog.Nop(), WithObserver(obs))

	_, _, err := e.Execute(context.Background(), Request{URL: url}, OK, testBudget(40*time.Millisecond))

	require.ErrorIs(t, err, engine.ErrTimeout)
	require.NotEmpty(t, obs.outcomes)
	for _, o := range obs.outcomes {
		assert.Equal(t, OutcomeTransport, o)
	}
}

func TestExecuteAttemptTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	e := New("test", zerolog.Nop())
	budget := Budget{AttemptTimeout: 20 * time.Millisecond, RetryInterval: time.Millisecond, Remaining: 2 * time.Second}

	resp, _, err := e.Execute(context.Background(), Request{URL: srv.URL}, OK, budget)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestExecuteResendsBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		assert.Equal(t, "2012-11-30", r.Header.Get("x-ms-version"))
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	e := New("test", zerolog.Nop())
	req := Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"x-ms-version": []string{"2012-11-30"}},
		Body:   []byte("<Health/>"),
	}

	_, _, err := e.Execute(context.Background(), req, OK, testBudget(time.Second))

	require.NoError(t, err)
	assert.Equal(t, []string{"<Health/>", "<Health/>", "<Health/>"}, bodies)
}

func TestExecuteExhaustedBudgetSendsNothing(t *testing.T) {
	srv, hits := statusServer(t, http.StatusOK)
	e := New("test", zerolog.Nop())

	_, _, err := e.Execute(context.Background(), Request{URL: srv.URL}, OK, testBudget(0))

	require.ErrorIs(t, err, engine.ErrTimeout)
	assert.Equal(t, int32(0), hits.Load())
}

func TestExecuteCancelledParent(t *testing.T) {
	srv, _ := statusServer(t, http.StatusServiceUnavailable)
	e := New("test", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, _, err := e.Execute(ctx, Request{URL: srv.URL}, OK, testBudget(5*time.Second))

	require.Error(t, err)
	assert.False(t, engine.IsTimeout(err))
	assert.Equal(t, engine.ErrorKindUnhandled, engine.KindOf(err))
}

func TestExecuteInvalidURL(t *testing.T) {
	e := New("test", zerolog.Nop())

	_, _, err := e.Execute(context.Background(), Request{URL: "://bad"}, OK, testBudget(time.Second))

	require.ErrorIs(t, err, engine.ErrTransport)
}
