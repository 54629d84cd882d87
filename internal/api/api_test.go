package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
	"github.com/bitsmanent/pixelounifier/internal/service"
	"github.com/bitsmanent/pixelounifier/internal/testutil"
)

type stubSweeper struct {
	report *service.SweepReport
	err    error
}

func (s *stubSweeper) Trigger(context.Context) (*service.SweepReport, error) {
	return s.report, s.err
}

func newTestRouter(t *testing.T, sweeper Sweeper) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	return NewRouter(db, sweeper, testutil.NewLogger(), gin.TestMode), db
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

// seedEvent 创建带完整层级、主客队与一条共识赔率的赛事
func seedEvent(t *testing.T, db *gorm.DB, name string, start time.Time) uint64 {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewCanonicalRepository(db)

	g, _, err := repo.EnsureGroup(ctx, "Football")
	require.NoError(t, err)
	c, _, err := repo.EnsureCategory(ctx, "Italy", &g.ID)
	require.NoError(t, err)
	m, _, err := repo.EnsureManifestation(ctx, "Serie A", &c.ID)
	require.NoError(t, err)

	ev := &model.Event{Name: name, NameKey: name, StartTime: start, ManifestationID: &m.ID, State: model.EventActive}
	require.NoError(t, repo.CreateEvent(ctx, ev))

	home, _, err := repo.EnsureParticipant(ctx, "Inter")
	require.NoError(t, err)
	away, _, err := repo.EnsureParticipant(ctx, "Milan")
	require.NoError(t, err)
	require.NoError(t, repo.EnsureEventParticipant(ctx, ev.ID, home.ID, model.RoleHome))
	require.NoError(t, repo.EnsureEventParticipant(ctx, ev.ID, away.ID, model.RoleAway))

	market, _, err := repo.EnsureMarket(ctx, "1X2")
	require.NoError(t, err)
	outcome, _, err := repo.EnsureOutcome(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, repo.CreateGame(ctx, &model.EventOutcome{
		EventID: ev.ID, MarketID: market.ID, OutcomeID: outcome.ID, Value: 160, State: model.GameActive,
	}))
	return ev.ID
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, &stubSweeper{})
	w := do(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealthz_DatabaseClosed(t *testing.T) {
	r, db := newTestRouter(t, &stubSweeper{})
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := do(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSweepHandler(t *testing.T) {
	report := &service.SweepReport{
		Stages:  []service.StageReport{{Stage: "groups", Claimed: 2, Updates: 1}},
		Updates: 1,
		Batches: 1,
	}
	r, _ := newTestRouter(t, &stubSweeper{report: report})

	w := do(r, http.MethodPost, "/sync/sweep")
	require.Equal(t, http.StatusOK, w.Code)
	var got service.SweepReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Updates)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "groups", got.Stages[0].Stage)
	assert.Equal(t, 2, got.Stages[0].Claimed)
}

func TestSweepHandler_StorageUnavailable(t *testing.T) {
	r, _ := newTestRouter(t, &stubSweeper{err: errors.Join(service.ErrStorageUnavailable, errors.New("conn reset"))})
	w := do(r, http.MethodPost, "/sync/sweep")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	r, _ = newTestRouter(t, &stubSweeper{err: context.DeadlineExceeded})
	w = do(r, http.MethodPost, "/sync/sweep")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListEvents(t *testing.T) {
	r, db := newTestRouter(t, &stubSweeper{})
	start := time.Date(2026, 5, 1, 18, 45, 0, 0, time.UTC)
	first := seedEvent(t, db, "Inter - Milan", start)
	seedEvent(t, db, "Roma - Lazio", start.Add(time.Hour))
	_, err := repository.NewCanonicalRepository(db).SetEventsState(context.Background(), []uint64{first}, model.EventActive, model.EventDisabled)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, w.Code)
	var all service.EventListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, int64(2), all.Total)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "Inter - Milan", all.Items[0].Name)
	assert.Equal(t, start.UnixMilli(), all.Items[0].StartTime)

	w = do(r, http.MethodGet, "/api/events?state=1&page_size=10")
	require.Equal(t, http.StatusOK, w.Code)
	var active service.EventListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Equal(t, int64(1), active.Total)
	require.Len(t, active.Items, 1)
	assert.Equal(t, "Roma - Lazio", active.Items[0].Name)

	w = do(r, http.MethodGet, "/api/events?state=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEventDetail(t *testing.T) {
	r, db := newTestRouter(t, &stubSweeper{})
	id := seedEvent(t, db, "Inter - Milan", time.Date(2026, 5, 1, 18, 45, 0, 0, time.UTC))

	w := do(r, http.MethodGet, "/api/events/"+jsonNumber(id))
	require.Equal(t, http.StatusOK, w.Code)
	var detail service.EventDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, id, detail.Event.ID)
	assert.Equal(t, "Football", detail.Event.GroupName)
	assert.Equal(t, "Italy", detail.Event.CategoryName)
	assert.Equal(t, "Serie A", detail.Event.ManifestationName)
	assert.Equal(t, "Inter", detail.Event.HomeTeam)
	assert.Equal(t, "Milan", detail.Event.AwayTeam)
	require.Len(t, detail.Games, 1)
	assert.Equal(t, "1X2", detail.Games[0].MarketName)
	assert.Equal(t, "1", detail.Games[0].OutcomeName)
	assert.Equal(t, int64(160), detail.Games[0].Value)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/events/999").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/events/abc").Code)
}

func TestPendingCounts(t *testing.T) {
	r, db := newTestRouter(t, &stubSweeper{})
	staging := repository.NewStagingRepository(db)
	require.NoError(t, staging.Upsert(context.Background(), model.KindGroup, []*model.SourceGroup{
		{Source: "s1", ExternalID: "1", Name: "Football"},
	}))

	w := do(r, http.MethodGet, "/api/pending")
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	assert.Equal(t, int64(1), counts["source_groups"])
	assert.Equal(t, int64(0), counts["source_events"])
	assert.Equal(t, int64(0), counts["update_outbox"])
}

func jsonNumber(id uint64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
