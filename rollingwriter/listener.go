package rollingwriter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// 滚动通知，两个方法都收到滚动前的文件名
// 回调可能在写锁内执行，可以调用 FileName、FileSize 等只读方法，不能再写入或滚动
type RolloverListener interface {
	RolloverTriggered(fileName string)
	RolloverComplete(fileName string)
}

// 函数形式的监听器，注册时使用指针以便移除
type ListenerFuncs struct {
	Triggered func(fileName string)
	Complete  func(fileName string)
}

func (l *ListenerFuncs) RolloverTriggered(fileName string) {
	if l.Triggered != nil {
		l.Triggered(fileName)
	}
}

func (l *ListenerFuncs) RolloverComplete(fileName string) {
	if l.Complete != nil {
		l.Complete(fileName)
	}
}

// 写时复制，通知时遍历快照
type listenerSet struct {
	mu   sync.Mutex
	list atomic.Pointer[[]RolloverListener]
	log  *zap.Logger
}

func (s *listenerSet) add(l RolloverListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next []RolloverListener
	if cur := s.list.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	s.list.Store(&next)
}

func (s *listenerSet) remove(l RolloverListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.list.Load()
	if cur == nil {
		return
	}
	next := make([]RolloverListener, 0, len(*cur))
	for _, x := range *cur {
		if x != l {
			next = append(next, x)
		}
	}
	s.list.Store(&next)
}

func (s *listenerSet) snapshot() []RolloverListener {
	if cur := s.list.Load(); cur != nil {
		return *cur
	}
	return nil
}

func (s *listenerSet) triggered(name string) {
	for _, l := range s.snapshot() {
		s.call("RolloverTriggered", func() { l.RolloverTriggered(name) })
	}
}

func (s *listenerSet) complete(name string) {
	for _, l := range s.snapshot() {
		s.call("RolloverComplete", func() { l.RolloverComplete(name) })
	}
}

// 监听器的panic不影响滚动
func (s *listenerSet) call(method string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("rollover listener panicked", zap.String("method", method), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	f()
}
