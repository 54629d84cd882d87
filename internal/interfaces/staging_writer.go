package interfaces

import (
	"context"

	"github.com/bitsmanent/pixelounifier/internal/model"
)

// StagingWriter 将单个数据源的上报写入 staging 表（upsert），供消息处理器调用
type StagingWriter interface {
	WriteGroups(ctx context.Context, source string, groups []model.NamedItem) error
	WriteCategories(ctx context.Context, source string, p *model.CategoriesPayload) error
	WriteManifestations(ctx context.Context, source string, p *model.ManifestationsPayload) error
	// WriteEvents 同时写入主客队 staging 行
	WriteEvents(ctx context.Context, source string, p *model.EventsPayload) error
	WriteMarkets(ctx context.Context, source string, p *model.MarketsPayload) error
	WriteOutcomes(ctx context.Context, source string, games []model.GameItem) error
}
