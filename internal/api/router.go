package api

import (
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewRouter 注册管理端全部路由
func NewRouter(db *gorm.DB, sweeper Sweeper, logger *logrus.Logger, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.Default()

	// 注册ppof 方便调试和监测性能问题
	pprof.Register(r)

	health := NewHealthHandler(db, logger)
	r.GET("/healthz", health.Healthz)

	syncHandler := NewSyncHandler(sweeper, logger)
	r.POST("/sync/sweep", syncHandler.SweepHandler)

	taxonomy := NewTaxonomyHandler(db, logger)
	r.GET("/api/events", taxonomy.ListEvents)
	r.GET("/api/events/:id", taxonomy.GetEventDetail)
	r.GET("/api/pending", taxonomy.PendingCounts)

	return r
}
