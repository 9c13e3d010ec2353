package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/api/rest"
	"github.com/kasuganosora/combatcore/audit"
	"github.com/kasuganosora/combatcore/cache"
	"github.com/kasuganosora/combatcore/config"
	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/game/charlock"
	"github.com/kasuganosora/combatcore/game/combat"
	"github.com/kasuganosora/combatcore/game/effect"
	"github.com/kasuganosora/combatcore/game/stats"
	mw "github.com/kasuganosora/combatcore/middleware"
	"github.com/kasuganosora/combatcore/model"
	"github.com/kasuganosora/combatcore/scheduler"
	"github.com/kasuganosora/combatcore/store"
	"github.com/kasuganosora/combatcore/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAdminKey = "admin-secret"
	testJWT      = "rest-test-secret"

	defMight    = 1
	defPoison   = 2
	defBlessing = 3
)

var ctx = context.Background()

var testSec = config.SecurityConfig{JWTSecret: testJWT, JWTTTL: time.Hour}

func nopLogger() *zap.Logger { return zap.NewNop() }

func testDefinitions() []model.EffectDefinition {
	return []model.EffectDefinition{
		{ID: defMight, Name: "Might", Type: model.EffectBuff, MaxStacks: 5, DefaultDurationS: 60,
			CanStack: true, CanDispel: true, AttackMod: 10, Priority: 2},
		{ID: defPoison, Name: "Poison", Type: model.EffectDebuff, MaxStacks: 1, DefaultDurationS: 30,
			CanDispel: true, DefenseMod: -10, Priority: 5},
		{ID: defBlessing, Name: "Blessing", Type: model.EffectBuff, MaxStacks: 1,
			DefaultDurationS: model.PermanentDuration, HealthMod: 20, Priority: 1},
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	r       *gin.Engine
	token   string
	clock   *clock
	cache   cache.Cache
	audit   *audit.Service
	engine  *effect.Engine
	sweeper *effect.Sweeper
	sched   *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	st := store.New(db)
	cat, err := catalog.New(testDefinitions())
	require.NoError(t, err)

	clk := &clock{now: time.Now()}
	locks := &charlock.Set{}
	history := effect.NewHistoryNotifier(c, "effects", 20)
	engine := effect.NewEngine(cat, st, nopLogger(),
		effect.WithClock(clk.Now),
		effect.WithLocks(locks),
		effect.WithCharacterCheck(st),
		effect.WithNotifier(effect.Notifiers{effect.NewPubSubNotifier(ps, "effects"), history}),
	)
	combatSvc := combat.NewService(st, locks, engine, nopLogger())
	resolver := stats.NewResolver(st, engine)
	auditSvc := audit.NewWithConfig(db, audit.Config{BatchSize: 1, FlushInterval: 20 * time.Millisecond}, nopLogger())
	t.Cleanup(func() { auditSvc.Stop(ctx) })
	sweeper := effect.NewSweeper(engine, c, effect.SweeperConfig{}, nopLogger())
	sched := scheduler.New(nopLogger())
	t.Cleanup(sched.Stop)

	routes := rest.Routes{
		Characters: rest.NewCharacterHandler(combatSvc, auditSvc),
		Effects:    rest.NewEffectHandler(engine, resolver, history, auditSvc),
		Admin: rest.NewAdminHandler(rest.AdminDeps{
			Catalog:  cat,
			Sweeper:  sweeper,
			Sched:    sched,
			Purger:   st,
			Cache:    c,
			Security: testSec,
			Audit:    auditSvc,
		}, nopLogger()),
	}

	r := gin.New()
	r.Use(mw.TraceID())
	routes.Register(r.Group("/api"),
		[]gin.HandlerFunc{mw.Auth(testSec, c)},
		[]gin.HandlerFunc{mw.AdminAuth(testAdminKey)},
	)

	token, _, err := mw.GenerateToken("battle-server", testJWT, time.Hour)
	require.NoError(t, err)

	return &fixture{
		r: r, token: token, clock: clk, cache: c, audit: auditSvc,
		engine: engine, sweeper: sweeper, sched: sched,
	}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	return doRequest(f.r, method, path, body, map[string]string{"Authorization": "Bearer " + f.token})
}

func (f *fixture) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return doRequest(f.r, method, path, body, map[string]string{mw.AdminKeyHeader: testAdminKey})
}

func doRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

// createCharacter creates a character through the API and returns its id.
func (f *fixture) createCharacter(t *testing.T, name string) int64 {
	t.Helper()
	w := f.do(http.MethodPost, "/api/characters", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c model.Character
	decode(t, w, &c)
	return c.ID
}
