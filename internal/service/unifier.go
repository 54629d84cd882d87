package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bitsmanent/pixelounifier/internal/config"
	"github.com/bitsmanent/pixelounifier/internal/interfaces"
	"github.com/bitsmanent/pixelounifier/internal/model"
	"github.com/bitsmanent/pixelounifier/internal/repository"
)

// ErrStorageUnavailable 存储连接不可用，本次 sweep 作废，进程应退出由外部重启
var ErrStorageUnavailable = errors.New("storage unavailable")

// StageReport 单个阶段的执行结果
type StageReport struct {
	Stage    string        `json:"stage"`
	Claimed  int           `json:"claimed"`
	Updates  int           `json:"updates"`
	Batches  int           `json:"batches"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SweepReport 一次 sweep 的执行结果
type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stages    []StageReport `json:"stages"`
	Updates   int           `json:"updates"`
	Batches   int           `json:"batches"`
	Delivered int           `json:"delivered"`
}

// Failed 是否有阶段失败
func (r *SweepReport) Failed() bool {
	for _, s := range r.Stages {
		if s.Error != "" {
			return true
		}
	}
	return false
}

type sweepResult struct {
	report *SweepReport
	err    error
}

// Unifier 统一引擎：单 worker 循环执行 sweep，按层级依次处理 staging 变更
type Unifier struct {
	db       *gorm.DB
	cfg      config.UnifierConfig
	emitter  *Emitter
	logger   *logrus.Logger
	now      func() time.Time
	triggers chan chan sweepResult
}

// NewUnifier 创建统一引擎
func NewUnifier(db *gorm.DB, cfg config.UnifierConfig, publisher interfaces.UpdatePublisher, logger *logrus.Logger) *Unifier {
	return &Unifier{
		db:       db,
		cfg:      cfg,
		emitter:  NewEmitter(repository.NewOutboxRepository(db), publisher, cfg.OutboxBatchSize, logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		triggers: make(chan chan sweepResult),
	}
}

// Run 执行 sweep 后等待固定间隔，直到 ctx 取消；存储不可用时返回错误
func (u *Unifier) Run(ctx context.Context) error {
	u.logger.WithField("interval", u.cfg.Interval).Info("统一引擎启动")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			u.logger.Info("统一引擎退出")
			return nil
		case reply := <-u.triggers:
			report, err := u.Sweep(ctx)
			reply <- sweepResult{report: report, err: err}
			if errors.Is(err, ErrStorageUnavailable) {
				return err
			}
		case <-timer.C:
			if _, err := u.Sweep(ctx); errors.Is(err, ErrStorageUnavailable) {
				return err
			}
			timer.Reset(u.cfg.Interval)
		}
	}
}

// Trigger 请求 Run 所在的 worker 立即执行一次 sweep 并等待结果，不会与循环并发
func (u *Unifier) Trigger(ctx context.Context) (*SweepReport, error) {
	reply := make(chan sweepResult, 1)
	select {
	case u.triggers <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.report, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type stage struct {
	name string
	run  func(ctx context.Context, s *stageScope) (int, error)
}

// stages 执行顺序：陈旧检测在处理新变更之前，其余按层级依赖
func (u *Unifier) stages() []stage {
	return []stage{
		{name: "staleness", run: u.detectStale},
		{name: "groups", run: processSourceGroups},
		{name: "categories", run: processSourceCategories},
		{name: "manifestations", run: processSourceManifestations},
		{name: "events", run: processSourceEvents},
		{name: "markets", run: processSourceMarkets},
		{name: "outcomes", run: u.processSourceOutcomes},
	}
}

// stageScope 单个阶段的事务作用域；阶段回滚时其 updates 与 outbox 写入一并丢弃
type stageScope struct {
	staging   repository.StagingRepository
	canonical repository.CanonicalRepository
	now       time.Time
	log       *logrus.Entry
	updates   []model.Update
}

func (s *stageScope) emit(t model.UpdateType, state model.UpdateState, data any) {
	s.updates = append(s.updates, model.Update{Type: t, State: state, Data: data})
}

// Sweep 执行一次完整 sweep。整个 sweep 占用同一个连接，每个阶段一个事务，
// 阶段的 updates 随事务写入 outbox；阶段失败只记录日志并继续下一阶段，
// 连接失效则放弃本次 sweep。最后投递 outbox 中未投递的批次
func (u *Unifier) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: u.now()}

	err := u.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		for _, st := range u.stages() {
			started := time.Now()
			sr := StageReport{Stage: st.name}
			scope := &stageScope{
				now: report.StartedAt,
				log: u.logger.WithField("stage", st.name),
			}
			err := conn.Transaction(func(tx *gorm.DB) error {
				scope.staging = repository.NewStagingRepository(tx)
				scope.canonical = repository.NewCanonicalRepository(tx)
				n, err := st.run(ctx, scope)
				sr.Claimed = n
				if err != nil {
					return err
				}
				// updates 与阶段写入同一事务提交，阶段提交后通知不会丢失
				batches, err := u.emitter.Persist(ctx, repository.NewOutboxRepository(tx), scope.updates, report.StartedAt)
				if err != nil {
					return fmt.Errorf("写入通知 outbox: %w", err)
				}
				sr.Batches = batches
				return nil
			})
			sr.Duration = time.Since(started)
			if err != nil {
				sr.Error = err.Error()
				report.Stages = append(report.Stages, sr)
				scope.log.WithError(err).Warn("阶段执行失败，未处理的行将在下次 sweep 重试")
				if perr := ping(ctx, conn); perr != nil {
					return fmt.Errorf("%w: stage %s: %v", ErrStorageUnavailable, st.name, perr)
				}
				continue
			}
			sr.Updates = len(scope.updates)
			report.Stages = append(report.Stages, sr)
			report.Updates += sr.Updates
			report.Batches += sr.Batches
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		u.logger.WithError(err).Error("存储不可用，放弃本次 sweep")
		return report, err
	}

	delivered, err := u.emitter.Drain(ctx)
	report.Delivered = delivered
	if err != nil {
		if serr := u.checkStorage(ctx, err); errors.Is(serr, ErrStorageUnavailable) {
			u.logger.WithError(serr).Error("存储不可用，停止投递")
			return report, serr
		}
		// 投递失败留在 outbox，下次 sweep 重试
		u.logger.WithError(err).Warn("通知投递失败")
	}
	report.Duration = time.Since(report.StartedAt)

	if report.Claimed() > 0 || report.Updates > 0 || report.Failed() {
		u.logger.WithFields(logrus.Fields{
			"claimed":   report.Claimed(),
			"updates":   report.Updates,
			"batches":   report.Batches,
			"delivered": report.Delivered,
			"duration":  report.Duration,
		}).Info("sweep 完成")
	}
	return report, nil
}

// Claimed 各阶段认领的行数合计
func (r *SweepReport) Claimed() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Claimed
	}
	return n
}

func (u *Unifier) checkStorage(ctx context.Context, cause error) error {
	if err := ping(ctx, u.db); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return cause
}

// ping 在给定连接上执行探活查询
func ping(ctx context.Context, db *gorm.DB) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.WithContext(ctx).Exec("SELECT 1").Error
}
