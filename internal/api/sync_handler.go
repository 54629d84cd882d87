package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bitsmanent/pixelounifier/internal/service"
)

// Sweeper 由统一引擎的 worker 执行一次 sweep
type Sweeper interface {
	Trigger(ctx context.Context) (*service.SweepReport, error)
}

type SyncHandler struct {
	sweeper Sweeper
	logger  *logrus.Logger
}

func NewSyncHandler(sweeper Sweeper, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		sweeper: sweeper,
		logger:  logger,
	}
}

// SweepHandler 立即执行一次 sweep 并返回各阶段结果
// @Summary 手动触发 sweep
// @Success 200 {object} service.SweepReport
// @Failure 503 {object} map[string]string
// @Router /sync/sweep [post]
func (h *SyncHandler) SweepHandler(c *gin.Context) {
	report, err := h.sweeper.Trigger(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("手动 sweep 失败")
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrStorageUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
