package tasks

import (
	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeShareSweep = "share:sweep" // 过期 Share 与陈旧成员的清理任务类型
)

// NewShareSweepTask 创建一个新的清理任务。
// 清理任务不携带数据：执行时刻的时间由 Worker 端取当前时间。
func NewShareSweepTask() *asynq.Task {
	return asynq.NewTask(TypeShareSweep, nil)
}
