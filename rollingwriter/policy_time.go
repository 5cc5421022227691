package rollingwriter

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// 按模板中日期的最小单位触发
type TimeBasedTriggeringPolicy struct {
	interval       int
	modulate       bool
	maxRandomDelay time.Duration

	mu        sync.Mutex
	next      time.Time
	processor *PatternProcessor
	pending   *timeSnapshot // 已触发但滚动还没有结果
}

type timeSnapshot struct {
	next  time.Time
	times fileTimes
}

func NewTimeBasedTriggeringPolicy(interval int, modulate bool, maxRandomDelay time.Duration) (*TimeBasedTriggeringPolicy, error) {
	if interval < 1 {
		interval = 1
	}
	if maxRandomDelay < 0 {
		return nil, fmt.Errorf("%w: max random delay %s", ErrInvalidArgument, maxRandomDelay)
	}
	return &TimeBasedTriggeringPolicy{interval: interval, modulate: modulate, maxRandomDelay: maxRandomDelay}, nil
}

func (p *TimeBasedTriggeringPolicy) Initialize(m *RollingFileManager) error {
	pp := m.PatternProcessor()
	if pp.Frequency() == NoFrequency {
		return fmt.Errorf("%w: pattern %q does not contain a date", ErrInvalidArgument, pp.Pattern())
	}
	current := m.FileTime()
	if current.IsZero() {
		current = m.Now()
	}
	pp.SetTimeBased(true)
	// 调用两次，使上一周期和当前周期的时间都有值
	pp.NextTime(current, p.interval, p.modulate)
	next := pp.NextTime(current, p.interval, p.modulate)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = pp
	p.next = next.Add(p.jitter())
	return nil
}

func (p *TimeBasedTriggeringPolicy) jitter() time.Duration {
	if p.maxRandomDelay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(p.maxRandomDelay) + 1))
}

func (p *TimeBasedTriggeringPolicy) IsTriggeringEvent(st FileState, size int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processor == nil || st.Now.Before(p.next) {
		return false
	}
	if p.pending == nil {
		p.pending = &timeSnapshot{next: p.next, times: p.processor.saveTimes()}
	}
	p.next = p.processor.NextTime(st.Now, p.interval, p.modulate).Add(p.jitter())
	p.processor.SetCurrentFileTime(st.Now)
	return true
}

func (p *TimeBasedTriggeringPolicy) RolloverSucceeded() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// 回到上一个周期，历史文件仍使用失败那次的时间
func (p *TimeBasedTriggeringPolicy) RolloverFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return
	}
	p.next = p.pending.next
	p.processor.restoreTimes(p.pending.times)
	p.pending = nil
}

// 下一次滚动的时间
func (p *TimeBasedTriggeringPolicy) NextRollover() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

func (p *TimeBasedTriggeringPolicy) String() string {
	return fmt.Sprintf("TimeBasedTriggeringPolicy(nextRollover=%s, interval=%d, modulate=%t)", p.NextRollover(), p.interval, p.modulate)
}
