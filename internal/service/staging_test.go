package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
	"github.com/bitsmanent/pixelounifier/internal/testutil"
)

func TestStagingService_WriteEventsWithParticipants(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewStagingService(repository.NewStagingRepository(db), testutil.NewLogger())
	local := time.FixedZone("CEST", 2*3600)

	err := svc.WriteEvents(context.Background(), "s1", &model.EventsPayload{
		ManiID: "m1",
		Events: []model.EventItem{
			{ID: "e1", Name: "Inter - Milan", Date: time.Date(2026, 5, 1, 20, 45, 0, 0, local),
				HomeTeam: "Inter", HomeTeamID: "t1", AwayTeam: "Milan", AwayTeamID: "t2"},
			{ID: "e2", Name: "Outright", Date: time.Date(2026, 5, 2, 20, 0, 0, 0, local)},
			// 同一批次内重复的赛事以最后一条为准
			{ID: "e1", Name: "Inter - AC Milan", Date: time.Date(2026, 5, 1, 20, 45, 0, 0, local),
				HomeTeam: "Inter", HomeTeamID: "t1", AwayTeam: "AC Milan", AwayTeamID: "t2"},
		},
	})
	require.NoError(t, err)

	var events []model.SourceEvent
	require.NoError(t, db.Order("external_id").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "Inter - AC Milan", events[0].Name)
	assert.Equal(t, "m1", events[0].ExternalManifestationID)
	assert.True(t, events[0].StartTime.Equal(time.Date(2026, 5, 1, 18, 45, 0, 0, time.UTC)))

	var participants []model.SourceParticipant
	require.NoError(t, db.Order("team_role DESC").Find(&participants).Error)
	require.Len(t, participants, 2, "没有参赛方 id 的赛事不写参赛方")
	assert.Equal(t, model.RoleHome, participants[0].TeamRole)
	assert.Equal(t, "Inter", participants[0].Name)
	assert.Equal(t, model.RoleAway, participants[1].TeamRole)
	assert.Equal(t, "AC Milan", participants[1].Name)
	assert.Equal(t, "e1", participants[1].ExternalEventID)
}

func TestStagingService_WriteOutcomesState(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewStagingService(repository.NewStagingRepository(db), testutil.NewLogger())

	require.NoError(t, svc.WriteOutcomes(context.Background(), "s1", []model.GameItem{
		{OutcomeID: "1", OutcomeName: "1", MarketID: "k", EventID: "e", Odd: 150, Enabled: true},
		{OutcomeID: "2", OutcomeName: "X", MarketID: "k", EventID: "e", Odd: 320},
	}))
	var rows []model.SourceOutcome
	require.NoError(t, db.Order("external_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, model.OutcomeActive, rows[0].State)
	assert.Equal(t, int64(150), rows[0].Value)
	assert.Equal(t, model.OutcomeDisabled, rows[1].State)

	assert.NoError(t, svc.WriteOutcomes(context.Background(), "s1", nil))
}
