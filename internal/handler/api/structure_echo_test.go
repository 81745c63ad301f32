package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	"SwingPull/internal/engine"
	"SwingPull/internal/usecase"
	pkgcache "SwingPull/pkg/cache"
)

type replayCall struct {
	symbol   string
	tf       domrepo.Timeframe
	from, to time.Time
	limit    int
}

type fakeService struct {
	snaps     map[string]*models.StructureSnapshot
	replayErr error
	replays   []replayCall
}

func (f *fakeService) Snapshot(_ context.Context, symbol, tf string) (*models.StructureSnapshot, error) {
	if s, ok := f.snaps[models.StreamKey(symbol, tf)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", usecase.ErrUnknownStream, models.StreamKey(symbol, tf))
}

func (f *fakeService) ReplayRange(_ context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time, limit int) (*models.StructureSnapshot, error) {
	f.replays = append(f.replays, replayCall{symbol, tf, from, to, limit})
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	return &models.StructureSnapshot{Symbol: symbol, Timeframe: string(tf)}, nil
}

func (f *fakeService) Streams() []string { return []string{"AAPL|1m"} }

var bucket = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newFake() *fakeService {
	return &fakeService{snaps: map[string]*models.StructureSnapshot{
		"AAPL|1m": {
			Symbol:    "AAPL",
			Timeframe: "1m",
			Bucket:    bucket,
			Snapshot: engine.Snapshot{
				BarIndex: 40,
				Close:    101,
				Highs: []engine.SwingPoint{
					{Price: 102, Bar: 10, Label: engine.HH},
					{Price: 103, Bar: 20, Label: engine.HH},
					{Price: 104, Bar: 30, Label: engine.HH},
				},
				Lows: []engine.SwingPoint{
					{Price: 99, Bar: 15, Label: engine.HL},
					{Price: 100, Bar: 25, Label: engine.HL},
				},
				Trend: engine.TrendState{Macro: engine.MacroBullish, Current: engine.TrendingBull},
				Profiles: []engine.RiskProfile{
					{Name: "conservative", Recommended: true},
					{Name: "aggressive"},
				},
			},
		},
	}}
}

func newTestServer(svc StructureService, opts ...HandlerOption) *echo.Echo {
	e := echo.New()
	NewStructureEchoHandler(nil, svc, opts...).RegisterRoutes(e)
	return e
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestStructureReturnsSnapshot(t *testing.T) {
	e := newTestServer(newFake())
	rec, env := do(t, e, http.MethodGet, "/api/structure?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.StructureSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "AAPL", snap.Symbol)
	assert.Equal(t, 40, snap.BarIndex)
	assert.Equal(t, engine.TrendingBull, snap.Trend.Current)
}

func TestStructureErrors(t *testing.T) {
	e := newTestServer(newFake())

	rec, _ := do(t, e, http.MethodGet, "/api/structure", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "symbol is required")

	rec, _ = do(t, e, http.MethodGet, "/api/structure?symbol=AAPL&tf=2m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := do(t, e, http.MethodGet, "/api/structure?symbol=MSFT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestSwingsFilterAndLimit(t *testing.T) {
	e := newTestServer(newFake())

	type list struct {
		Rows  []engine.SwingPoint `json:"rows"`
		Total int64               `json:"total"`
	}
	get := func(q string) list {
		rec, env := do(t, e, http.MethodGet, "/api/structure/swings?symbol=AAPL"+q, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var l list
		require.NoError(t, json.Unmarshal(env.Data, &l))
		return l
	}

	all := get("")
	require.Len(t, all.Rows, 5)
	for i := 1; i < len(all.Rows); i++ {
		assert.Less(t, all.Rows[i-1].Bar, all.Rows[i].Bar)
	}

	highs := get("&kind=high&limit=2")
	require.Len(t, highs.Rows, 2)
	assert.Equal(t, 103.0, highs.Rows[0].Price)
	assert.Equal(t, 104.0, highs.Rows[1].Price)

	lows := get("&kind=low")
	assert.Equal(t, int64(2), lows.Total)

	rec, _ := do(t, e, http.MethodGet, "/api/structure/swings?symbol=AAPL&kind=mid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfilesListsRecommended(t *testing.T) {
	e := newTestServer(newFake())
	rec, env := do(t, e, http.MethodGet, "/api/structure/profiles?symbol=AAPL&tf=1m", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res profilesResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, []string{"conservative"}, res.Recommended)
	assert.Len(t, res.Profiles, 2)
}

func TestStreams(t *testing.T) {
	e := newTestServer(newFake())
	rec, env := do(t, e, http.MethodGet, "/api/structure/streams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "AAPL|1m")
}

func TestReplayAlignsRange(t *testing.T) {
	svc := newFake()
	e := newTestServer(svc)
	body := `{"symbol":"AAPL","tf":"5m","from":"2024-03-04T14:32:10Z","to":"2024-03-04T15:01:00Z"}`
	rec, _ := do(t, e, http.MethodPost, "/api/structure/replay", body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, svc.replays, 1)
	call := svc.replays[0]
	assert.Equal(t, domrepo.Timeframe("5m"), call.tf)
	assert.Equal(t, 20000, call.limit)
	assert.True(t, call.from.Equal(time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)), call.from)
	assert.False(t, call.to.Before(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)), call.to)
}

func TestReplayValidation(t *testing.T) {
	svc := newFake()
	e := newTestServer(svc)
	body := `{"symbol":"AAPL","from":"2024-03-04T15:00:00Z","to":"2024-03-04T14:00:00Z"}`
	rec, _ := do(t, e, http.MethodPost, "/api/structure/replay", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.replays)
}

func TestReplayErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("replay bar 3: %w", engine.ErrOutOfOrder), http.StatusConflict},
		{fmt.Errorf("%w: no bars", usecase.ErrUnknownStream), http.StatusNotFound},
		{fmt.Errorf("replay bar 0: %w", models.ErrInvalidBar), http.StatusBadRequest},
		{errors.New("clickhouse down"), http.StatusInternalServerError},
	}
	body := `{"symbol":"AAPL","from":"2024-03-04T14:00:00Z","to":"2024-03-04T15:00:00Z"}`
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			svc := newFake()
			svc.replayErr = tc.err
			rec, _ := do(t, newTestServer(svc), http.MethodPost, "/api/structure/replay", body)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestReplayRateLimited(t *testing.T) {
	svc := newFake()
	e := newTestServer(svc, WithReplayLimit(0.001, 1))
	body := `{"symbol":"AAPL","from":"2024-03-04T14:00:00Z","to":"2024-03-04T15:00:00Z"}`

	rec, _ := do(t, e, http.MethodPost, "/api/structure/replay", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/api/structure/replay", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, svc.replays, 1)
}

func TestReplayLockRejectsConcurrentRun(t *testing.T) {
	locks := pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = locks.Close() })
	svc := newFake()
	e := newTestServer(svc, WithReplayLock(locks, time.Minute))

	ok, err := locks.TryLock(context.Background(), pkgcache.GenerateKeyWithParams("replay", "AAPL", "1m"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	body := `{"symbol":"AAPL","from":"2024-03-04T14:00:00Z","to":"2024-03-04T15:00:00Z"}`
	rec, _ := do(t, e, http.MethodPost, "/api/structure/replay", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, svc.replays)

	require.NoError(t, locks.Unlock(context.Background(), pkgcache.GenerateKeyWithParams("replay", "AAPL", "1m")))
	rec, _ = do(t, e, http.MethodPost, "/api/structure/replay", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	ok, _ = locks.TryLock(context.Background(), pkgcache.GenerateKeyWithParams("replay", "AAPL", "1m"), time.Minute)
	assert.True(t, ok, "lock released after the replay")
}

func TestHealth(t *testing.T) {
	e := newTestServer(newFake(), WithHealthCheck("clickhouse", func(context.Context) error { return nil }))
	rec, _ := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	e = newTestServer(newFake(),
		WithHealthCheck("clickhouse", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") }),
	)
	rec, env := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var res healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "degraded", res.Status)
	assert.Equal(t, "ok", res.Checks["clickhouse"])
}
