// Package integration runs the full HTTP stack against an in-memory database
// and the in-process cache.
package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/combatcore/api/rest"
	"github.com/kasuganosora/combatcore/api/sse"
	"github.com/kasuganosora/combatcore/audit"
	"github.com/kasuganosora/combatcore/cache"
	"github.com/kasuganosora/combatcore/config"
	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/game/charlock"
	"github.com/kasuganosora/combatcore/game/combat"
	"github.com/kasuganosora/combatcore/game/effect"
	"github.com/kasuganosora/combatcore/game/stats"
	mw "github.com/kasuganosora/combatcore/middleware"
	"github.com/kasuganosora/combatcore/scheduler"
	"github.com/kasuganosora/combatcore/store"
	"github.com/kasuganosora/combatcore/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const AdminKey = "integration-admin"

// Clock is a manually advanced time source shared by the engine.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	Engine  *effect.Engine
	Sweeper *effect.Sweeper
	Sched   *scheduler.Scheduler
	Audit   *audit.Service
	SSE     *sse.Handler
	Clock   *Clock
	Server  *httptest.Server
	URL     string
	Sec     config.SecurityConfig
	Token   string
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	st := store.New(db)

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTL:         time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	cat, err := catalog.LoadFile("../config/effects.yaml")
	require.NoError(t, err)
	require.NoError(t, st.SaveDefinitions(context.Background(), cat.All()))

	// ---- Game services ----
	clock := &Clock{now: time.Now()}
	locks := &charlock.Set{}
	events := effect.NewPubSubNotifier(pubsub, "effects")
	history := effect.NewHistoryNotifier(c, "effects", 50)
	engine := effect.NewEngine(cat, st, logger,
		effect.WithClock(clock.Now),
		effect.WithLocks(locks),
		effect.WithCharacterCheck(st),
		effect.WithNotifier(effect.Notifiers{events, history}),
	)
	combatSvc := combat.NewService(st, locks, engine, logger)
	resolver := stats.NewResolver(st, engine)
	auditSvc := audit.NewWithConfig(db, audit.Config{BatchSize: 1, FlushInterval: 10 * time.Millisecond}, logger)
	sweeper := effect.NewSweeper(engine, c, effect.SweeperConfig{Rate: 10000, Burst: 100}, logger)
	sched := scheduler.New(logger)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apirest.Routes{
		Characters: apirest.NewCharacterHandler(combatSvc, auditSvc),
		Effects:    apirest.NewEffectHandler(engine, resolver, history, auditSvc),
		Admin: apirest.NewAdminHandler(apirest.AdminDeps{
			Catalog:  cat,
			Sweeper:  sweeper,
			Sched:    sched,
			Purger:   st,
			Cache:    c,
			Security: sec,
			Audit:    auditSvc,
		}, logger),
	}.Register(r.Group("/api"),
		[]gin.HandlerFunc{mw.Auth(sec, c), mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst)},
		[]gin.HandlerFunc{mw.IPWhitelist([]string{"127.0.0.0/8"}), mw.AdminAuth(AdminKey)},
	)

	sseH := sse.NewHandler(pubsub, events, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	server := httptest.NewServer(r)

	token, _, err := mw.GenerateToken("integration", sec.JWTSecret, time.Hour)
	require.NoError(t, err)

	ts := &TestServer{
		DB:      db,
		Cache:   c,
		PubSub:  pubsub,
		Engine:  engine,
		Sweeper: sweeper,
		Sched:   sched,
		Audit:   auditSvc,
		SSE:     sseH,
		Clock:   clock,
		Server:  server,
		URL:     server.URL,
		Sec:     sec,
		Token:   token,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the server and background workers. Safe to call twice.
func (ts *TestServer) Close() {
	ts.Sched.Stop()
	ts.SSE.Close()
	ts.Server.Close()
	ts.Audit.Stop(context.Background())
}

var uidSeq atomic.Int64

// UniqueID returns prefix with a process-unique suffix.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, uidSeq.Add(1))
}

// Do sends a JSON request with the service token and decodes the response
// into out when out is non-nil. It returns the status code.
func (ts *TestServer) Do(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()
	return ts.do(t, method, path, body, out, map[string]string{"Authorization": "Bearer " + ts.Token})
}

// Admin sends a request with the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body, out interface{}) int {
	t.Helper()
	return ts.do(t, method, path, body, out, map[string]string{mw.AdminKeyHeader: AdminKey})
}

func (ts *TestServer) do(t *testing.T, method, path string, body, out interface{}, headers map[string]string) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp.StatusCode
}

// CreateCharacter creates a character and returns its id.
func (ts *TestServer) CreateCharacter(t *testing.T, name string) int64 {
	t.Helper()
	var out struct {
		ID int64 `json:"id"`
	}
	code := ts.Do(t, http.MethodPost, "/api/characters", map[string]string{"name": name}, &out)
	require.Equal(t, http.StatusCreated, code)
	return out.ID
}

// Apply applies defID to charID with extra request fields.
func (ts *TestServer) Apply(t *testing.T, charID int64, defID int, extra map[string]interface{}) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"definition_id": defID}
	for k, v := range extra {
		body[k] = v
	}
	var out map[string]interface{}
	code := ts.Do(t, http.MethodPost, fmt.Sprintf("/api/characters/%d/effects", charID), body, &out)
	require.Equal(t, http.StatusOK, code)
	return out
}

// SSEStream is an open event stream.
type SSEStream struct {
	resp   *http.Response
	cancel context.CancelFunc
	events chan SSEEvent
}

// SSEEvent is one received server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// OpenSSE subscribes to charID's effect events and waits for the connected
// event.
func (ts *TestServer) OpenSSE(t *testing.T, charID int64) *SSEStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/sse?token=%s&character_id=%d", ts.URL, ts.Token, charID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s := &SSEStream{resp: resp, cancel: cancel, events: make(chan SSEEvent, 64)}
	go s.read()
	t.Cleanup(s.Close)

	ev := s.Next(t, 5*time.Second)
	require.Equal(t, "connected", ev.Name)
	return s
}

func (s *SSEStream) read() {
	defer close(s.events)
	r := bufio.NewReader(s.resp.Body)
	var ev SSEEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.Name != "":
			s.events <- ev
			ev = SSEEvent{}
		}
	}
}

// Next returns the next event or fails after timeout.
func (s *SSEStream) Next(t *testing.T, timeout time.Duration) SSEEvent {
	t.Helper()
	select {
	case ev, ok := <-s.events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(timeout):
		t.Fatalf("no SSE event within %s", timeout)
	}
	return SSEEvent{}
}

// Close ends the stream.
func (s *SSEStream) Close() {
	s.cancel()
	s.resp.Body.Close()
}
