package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/yfffy/simplemeet/internal/service"
)

// ShareSweepHandler 处理周期性的过期清理任务
type ShareSweepHandler struct {
	shareService *service.ShareService
}

// NewShareSweepHandler 创建 Handler 实例
func NewShareSweepHandler(shareService *service.ShareService) *ShareSweepHandler {
	if shareService == nil {
		panic("ShareService cannot be nil for ShareSweepHandler")
	}
	return &ShareSweepHandler{shareService: shareService}
}

// ProcessTask 实现 asynq.Handler 接口。
// 单次清理失败只记录日志并返回 nil：周期任务会在下个周期重试，
// 让 Asynq 重试单次失败没有意义。
func (h *ShareSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Debug("Processing periodic share sweep task...")

	// 带超时的 context，避免任务卡死
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := h.shareService.Sweep(sweepCtx, time.Now())
	if err != nil {
		logCtx.WithError(err).Error("Share sweep failed, will retry next cycle")
		return nil
	}

	logCtx.WithFields(logrus.Fields{
		"shares_removed":  result.SharesRemoved,
		"members_removed": result.MembersRemoved,
	}).Debug("Share sweep task completed")
	return nil
}
