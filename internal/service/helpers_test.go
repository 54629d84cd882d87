package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/config"
	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
	"github.com/bitsmanent/pixelounifier/internal/testutil"
)

type sentUpdate struct {
	Type  model.UpdateType  `json:"type"`
	State model.UpdateState `json:"state"`
	Data  json.RawMessage   `json:"data"`
}

type sentBatch struct {
	Type      model.UpdateType `json:"type"`
	Data      []sentUpdate     `json:"data"`
	Timestamp string           `json:"timestamp"`
}

// fakePublisher 记录投递的批次；fail 非空时投递失败
type fakePublisher struct {
	mu      sync.Mutex
	fail    error
	batches []sentBatch
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) Publish(_ context.Context, msgType string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	var b sentBatch
	if err := json.Unmarshal(payload, &b); err != nil {
		return err
	}
	if string(b.Type) != msgType {
		return errUnexpectedType
	}
	p.batches = append(p.batches, b)
	return nil
}

func (p *fakePublisher) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

// take 取出并清空已投递的 updates
func (p *fakePublisher) take() []sentUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentUpdate
	for _, b := range p.batches {
		out = append(out, b.Data...)
	}
	p.batches = nil
	return out
}

var errUnexpectedType = errors.New("batch type mismatch")

type fixture struct {
	db      *gorm.DB
	writer  *StagingService
	pub     *fakePublisher
	unifier *Unifier
}

func newFixture(t *testing.T, tolerance time.Duration) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	logger := testutil.NewLogger()
	pub := &fakePublisher{}
	cfg := config.UnifierConfig{
		Interval:        time.Hour,
		StaleTolerance:  tolerance,
		StaleLookback:   48 * time.Hour,
		OutboxBatchSize: 100,
	}
	return &fixture{
		db:      db,
		writer:  NewStagingService(repository.NewStagingRepository(db), logger),
		pub:     pub,
		unifier: NewUnifier(db, cfg, pub, logger),
	}
}

func (f *fixture) sweep(t *testing.T) *SweepReport {
	t.Helper()
	report, err := f.unifier.Sweep(context.Background())
	require.NoError(t, err)
	require.False(t, report.Failed(), "stages: %+v", report.Stages)
	return report
}

// feed 单个数据源对同一场比赛、同一条赔率的完整上报
type feed struct {
	source string

	groupID, cateID, maniID, eventID, marketID, outcomeID string

	group, cate, mani, event, home, away, market, outcome string

	start    time.Time
	odd      int64
	disabled bool
}

func defaultFeed(source string, start time.Time, odd int64) feed {
	return feed{
		source:  source,
		groupID: source + "-g1", cateID: source + "-c1", maniID: source + "-m1", eventID: source + "-e1",
		marketID: source + "-k1", outcomeID: source + "-o1",
		group: "Football", cate: "Italy", mani: "Serie A", event: "Inter - Milan", home: "Inter", away: "Milan",
		market: "1X2", outcome: "1",
		start: start, odd: odd,
	}
}

func (f *fixture) writeHierarchy(t *testing.T, fd feed) {
	t.Helper()
	ctx := context.Background()
	w := f.writer
	require.NoError(t, w.WriteGroups(ctx, fd.source, []model.NamedItem{{ID: model.ExternalID(fd.groupID), Name: fd.group}}))
	require.NoError(t, w.WriteCategories(ctx, fd.source, &model.CategoriesPayload{
		GroupID: model.ExternalID(fd.groupID),
		Cates:   []model.NamedItem{{ID: model.ExternalID(fd.cateID), Name: fd.cate}},
	}))
	require.NoError(t, w.WriteManifestations(ctx, fd.source, &model.ManifestationsPayload{
		GroupID: model.ExternalID(fd.groupID),
		CateID:  model.ExternalID(fd.cateID),
		Manis:   []model.NamedItem{{ID: model.ExternalID(fd.maniID), Name: fd.mani}},
	}))
	require.NoError(t, w.WriteEvents(ctx, fd.source, &model.EventsPayload{
		ManiID: model.ExternalID(fd.maniID),
		Events: []model.EventItem{{
			ID: model.ExternalID(fd.eventID), Name: fd.event, Date: fd.start,
			HomeTeam: fd.home, HomeTeamID: model.ExternalID(fd.source + "-" + fd.home),
			AwayTeam: fd.away, AwayTeamID: model.ExternalID(fd.source + "-" + fd.away),
		}},
	}))
	require.NoError(t, w.WriteMarkets(ctx, fd.source, &model.MarketsPayload{
		GroupID: model.ExternalID(fd.groupID),
		Classes: []model.NamedItem{{ID: model.ExternalID(fd.marketID), Name: fd.market}},
	}))
}

func (f *fixture) writeGames(t *testing.T, fd feed) {
	t.Helper()
	require.NoError(t, f.writer.WriteOutcomes(context.Background(), fd.source, []model.GameItem{{
		OutcomeID: model.ExternalID(fd.outcomeID), OutcomeName: fd.outcome,
		MarketID: model.ExternalID(fd.marketID), EventID: model.ExternalID(fd.eventID),
		Odd: fd.odd, Enabled: !fd.disabled,
	}}))
}

func (f *fixture) writeFeed(t *testing.T, fd feed) {
	t.Helper()
	f.writeHierarchy(t, fd)
	f.writeGames(t, fd)
}

func kickoff() time.Time {
	return time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
}

func countRows(t *testing.T, db *gorm.DB, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

func typesOf(updates []sentUpdate) []string {
	out := make([]string, 0, len(updates))
	for _, u := range updates {
		out = append(out, string(u.Type)+":"+string(u.State))
	}
	return out
}
