package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
	"github.com/bitsmanent/pixelounifier/internal/service"
)

// TaxonomyHandler 统一赛事与共识赔率查询接口
type TaxonomyHandler struct {
	taxonomyService *service.TaxonomyService
	logger          *logrus.Logger
}

// NewTaxonomyHandler 创建 TaxonomyHandler
func NewTaxonomyHandler(db *gorm.DB, logger *logrus.Logger) *TaxonomyHandler {
	svc := service.NewTaxonomyService(
		repository.NewTaxonomyRepository(db),
		repository.NewCanonicalRepository(db),
		logger,
	)
	return &TaxonomyHandler{
		taxonomyService: svc,
		logger:          logger,
	}
}

// ListEvents 赛事列表
// GET /api/events?state=1&manifestation_id=3&page=1&page_size=20
func (h *TaxonomyHandler) ListEvents(c *gin.Context) {
	var filter repository.EventFilter
	if v := c.Query("state"); v != "" {
		state, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}
		filter.State = model.EventState(state)
	}
	if v := c.Query("manifestation_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid manifestation_id"})
			return
		}
		filter.ManifestationID = id
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.taxonomyService.ListEvents(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("ListEvents failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetEventDetail 赛事详情：层级名称、主客队与共识赔率
// GET /api/events/:id
func (h *TaxonomyHandler) GetEventDetail(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	result, err := h.taxonomyService.GetEventDetail(c.Request.Context(), id)
	if errors.Is(err, service.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("GetEventDetail failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// PendingCounts 各 staging 表待处理行数
// GET /api/pending
func (h *TaxonomyHandler) PendingCounts(c *gin.Context) {
	counts, err := h.taxonomyService.PendingCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("PendingCounts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}
