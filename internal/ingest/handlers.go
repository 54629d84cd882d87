package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/model"
)

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, fmt.Errorf("%w: data 为空", ErrInvalidPayload)
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

func required(field string, id model.ExternalID) error {
	if id == "" {
		return fmt.Errorf("%w: 缺少 %s", ErrInvalidPayload, field)
	}
	return nil
}

func handleGroups(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error {
	items, err := decode[[]model.NamedItem](data)
	if err != nil {
		return err
	}
	return w.WriteGroups(ctx, source, items)
}

func handleCategories(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error {
	p, err := decode[model.CategoriesPayload](data)
	if err != nil {
		return err
	}
	if err := required("groupId", p.GroupID); err != nil {
		return err
	}
	return w.WriteCategories(ctx, source, &p)
}

// handleManifestations groupId 可缺省
func handleManifestations(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error {
	p, err := decode[model.ManifestationsPayload](data)
	if err != nil {
		return err
	}
	if err := required("cateId", p.CateID); err != nil {
		return err
	}
	return w.WriteManifestations(ctx, source, &p)
}

func handleEvents(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error {
	p, err := decode[model.EventsPayload](data)
	if err != nil {
		return err
	}
	if err := required("maniId", p.ManiID); err != nil {
		return err
	}
	return w.WriteEvents(ctx, source, &p)
}

func handleMarkets(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error {
	p, err := decode[model.MarketsPayload](data)
	if err != nil {
		return err
	}
	if err := required("groupId", p.GroupID); err != nil {
		return err
	}
	return w.WriteMarkets(ctx, source, &p)
}

func handleGames(ctx context.Context, source string, data json.RawMessage, w interfaces.StagingWriter) error {
	games, err := decode[[]model.GameItem](data)
	if err != nil {
		return err
	}
	for i, g := range games {
		if g.OutcomeID == "" || g.MarketID == "" || g.EventID == "" {
			return fmt.Errorf("%w: games[%d] 缺少 outcomeId/marketId/eventId", ErrInvalidPayload, i)
		}
	}
	return w.WriteOutcomes(ctx, source, games)
}
