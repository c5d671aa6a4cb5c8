// Package refill 实现后台回填链路：Dispatcher 负责按 (class, id) 去重，
// Pool 以有限并发消费任务、访问上游并把结果写回存储。
// 读路径只会调用 Dispatcher.Request，永远不等待网络。
package refill

import (
	"time"

	"github.com/modmirror/modmirror/internal/store"
)

// Job 是一次回填请求，只存在于 Dispatcher → Pool 的通道中。
// Done 在任务终结（成功或终态失败）后由 Pool 调用，用于释放在途标记。
type Job struct {
	Class       store.Class
	IDs         []string
	RequestedAt time.Time
	Done        func()
}

// Submitter 抽象任务投递入口，解耦具体队列实现。
// Submit 不得阻塞，队列已满时返回 false。
type Submitter interface {
	Submit(job Job) bool
}
