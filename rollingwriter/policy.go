package rollingwriter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// 写入时传给触发策略的文件状态
type FileState struct {
	Name    string
	Size    int64     // 自上次滚动以来写入的字节数
	Created time.Time // 当前文件的时间
	Now     time.Time
}

// 触发策略，IsTriggeringEvent 在管理器加锁的情况下调用，不能再调用管理器的方法
type TriggeringPolicy interface {
	Initialize(m *RollingFileManager) error
	IsTriggeringEvent(st FileState, size int) bool
}

// 持有后台协程的策略在关闭时停止
type Stopper interface {
	Stop(ctx context.Context) error
}

// 滚动结束后由管理器通知，在管理器加锁的情况下调用
// 失败时策略恢复触发前的状态，下一次检查会再次触发
type RolloverObserver interface {
	RolloverSucceeded()
	RolloverFailed()
}

type PolicyFactory func(params map[string]string) (TriggeringPolicy, error)

var (
	policyMu        sync.RWMutex
	policyFactories = map[string]PolicyFactory{}
)

// 注册自定义的触发策略，配置文件中通过 policy.custom 使用
func RegisterPolicy(name string, f PolicyFactory) {
	policyMu.Lock()
	defer policyMu.Unlock()
	policyFactories[name] = f
}

func NewPolicy(name string, params map[string]string) (TriggeringPolicy, error) {
	policyMu.RLock()
	f, ok := policyFactories[name]
	policyMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown triggering policy %q", ErrInvalidArgument, name)
	}
	return f(params)
}

func RegisteredPolicies() []string {
	policyMu.RLock()
	defer policyMu.RUnlock()
	names := make([]string, 0, len(policyFactories))
	for name := range policyFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterPolicy("size", func(params map[string]string) (TriggeringPolicy, error) {
		max, err := ParseFileSize(params["size"])
		if err != nil {
			return nil, err
		}
		return NewSizeBasedTriggeringPolicy(max)
	})
	RegisterPolicy("cron", func(params map[string]string) (TriggeringPolicy, error) {
		return NewCronTriggeringPolicy(params["schedule"], params["evaluateOnStartup"] == "true")
	})
}
