package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defMight    = 1
	defBlessing = 4
	defFrailty  = 10
	defCurse    = 21
)

type effectRow struct {
	DefinitionID int    `json:"definition_id"`
	Type         string `json:"type"`
	Stacks       int    `json:"stacks"`
	Level        int    `json:"level"`
}

func (ts *TestServer) effects(t *testing.T, charID int64) []effectRow {
	t.Helper()
	var out struct {
		Effects []effectRow `json:"effects"`
	}
	require.Equal(t, http.StatusOK, ts.Do(t, http.MethodGet, fmt.Sprintf("/api/characters/%d/effects", charID), nil, &out))
	return out.Effects
}

func (ts *TestServer) sweep(t *testing.T) int {
	t.Helper()
	var out struct {
		Processed int `json:"processed"`
	}
	require.Equal(t, http.StatusOK, ts.Admin(t, http.MethodPost, "/api/admin/sweep", nil, &out))
	return out.Processed
}

func TestEffectsDriveResolvedStats(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateCharacter(t, UniqueID("Buffed"))

	ts.Apply(t, id, defMight, map[string]interface{}{"stacks": 3})
	ts.Apply(t, id, defBlessing, nil)
	ts.Apply(t, id, defFrailty, map[string]interface{}{"stacks": 2})

	var eff struct {
		MaxHP   int `json:"max_hp"`
		MaxMP   int `json:"max_mp"`
		Attack  int `json:"attack"`
		Defense int `json:"defense"`
	}
	require.Equal(t, http.StatusOK, ts.Do(t, http.MethodGet, fmt.Sprintf("/api/characters/%d/stats", id), nil, &eff))
	assert.Equal(t, 13, eff.Attack) // 10 * 1.30
	assert.Equal(t, 120, eff.MaxHP) // 100 * 1.20
	assert.Equal(t, 55, eff.MaxMP)  // 50 * 1.10
	assert.Equal(t, 4, eff.Defense) // 5 * 0.90
}

func TestDecayAndExpiryOverSSE(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateCharacter(t, UniqueID("Watched"))
	stream := ts.OpenSSE(t, id)

	ts.Apply(t, id, defFrailty, map[string]interface{}{"stacks": 3})
	assert.Equal(t, "applied", stream.Next(t, 5*time.Second).Name)

	ts.Clock.Advance(11 * time.Second)
	assert.Equal(t, 1, ts.sweep(t))
	assert.Equal(t, "decayed", stream.Next(t, 5*time.Second).Name)
	rows := ts.effects(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Stacks)

	ts.Clock.Advance(30 * time.Second)
	assert.Equal(t, 1, ts.sweep(t))
	ev := stream.Next(t, 5*time.Second)
	assert.Equal(t, "expired", ev.Name)
	assert.Contains(t, ev.Data, `"stacks":0`)
	assert.Empty(t, ts.effects(t, id))

	var hist struct {
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	require.Equal(t, http.StatusOK, ts.Do(t, http.MethodGet, fmt.Sprintf("/api/characters/%d/effects/history", id), nil, &hist))
	require.Len(t, hist.Events, 3)
	assert.Equal(t, "expired", hist.Events[0].Kind)
	assert.Equal(t, "applied", hist.Events[2].Kind)
}

func TestDispelRespectsRules(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateCharacter(t, UniqueID("Cursed"))
	ts.Apply(t, id, defCurse, nil)
	ts.Apply(t, id, defFrailty, nil)
	ts.Apply(t, id, 20, nil) // stun

	var out struct {
		Removed int `json:"removed"`
	}
	require.Equal(t, http.StatusOK,
		ts.Do(t, http.MethodDelete, fmt.Sprintf("/api/characters/%d/effects?type=abnormal", id), nil, &out))
	assert.Equal(t, 1, out.Removed, "curse cannot be dispelled")

	rows := ts.effects(t, id)
	require.Len(t, rows, 2)
	ids := []int{rows[0].DefinitionID, rows[1].DefinitionID}
	assert.ElementsMatch(t, []int{defCurse, defFrailty}, ids)
}

func TestConcurrentApplyKeepsOneInstance(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateCharacter(t, UniqueID("Crowded"))
	body := []byte(fmt.Sprintf(`{"definition_id":%d}`, defMight))
	url := fmt.Sprintf("%s/api/characters/%d/effects", ts.URL, id)

	const n = 20
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+ts.Token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "request %d", i)
	}
	rows := ts.effects(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Stacks)
}

func TestScheduledSweep(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateCharacter(t, UniqueID("Ticked"))
	ts.Apply(t, id, 20, nil) // stun, 3s

	ts.Clock.Advance(5 * time.Second)
	ts.Sched.AddTicker("effect_sweep", 10*time.Millisecond, ts.Sweeper.Tick)

	require.Eventually(t, func() bool {
		effects, err := ts.Engine.List(context.Background(), id)
		return err == nil && len(effects) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRevokedTokenLosesAccess(t *testing.T) {
	ts := NewTestServer(t)
	var issued struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusCreated,
		ts.Admin(t, http.MethodPost, "/api/admin/tokens", map[string]string{"service": "matchmaker"}, &issued))

	ts.Token = issued.Token
	id := ts.CreateCharacter(t, UniqueID("Temp"))

	require.Equal(t, http.StatusOK,
		ts.Admin(t, http.MethodPost, "/api/admin/tokens/revoke", map[string]string{"token": issued.Token}, nil))
	assert.Equal(t, http.StatusUnauthorized, ts.Do(t, http.MethodGet, fmt.Sprintf("/api/characters/%d", id), nil, nil))
}
