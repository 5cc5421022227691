package rollingwriter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// 秒字段可选，并支持 @daily 这类描述符
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// 定时任务可能比整点略早触发
const cronSlack = 500 * time.Millisecond

// 按cron表达式触发，写入时检查，空闲时由后台任务滚动
type CronTriggeringPolicy struct {
	expr              string
	schedule          cron.Schedule
	evaluateOnStartup bool

	mu        sync.Mutex
	next      time.Time
	last      time.Time
	cr        *cron.Cron
	manager   *RollingFileManager
	processor *PatternProcessor
	pending   *cronSnapshot
}

type cronSnapshot struct {
	next, last time.Time
	times      fileTimes
}

func NewCronTriggeringPolicy(expr string, evaluateOnStartup bool) (*CronTriggeringPolicy, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %v", ErrInvalidArgument, expr, err)
	}
	return &CronTriggeringPolicy{expr: expr, schedule: sched, evaluateOnStartup: evaluateOnStartup}, nil
}

func (p *CronTriggeringPolicy) Initialize(m *RollingFileManager) error {
	pp := m.PatternProcessor()
	loc := pp.Location()
	now := m.Now()
	ft := m.FileTime()
	last := ft
	if last.IsZero() {
		last = now
	}
	pp.SetTimeBased(true)

	p.mu.Lock()
	p.manager = m
	p.processor = pp
	p.last = last
	p.next = p.schedule.Next(now.In(loc))
	p.mu.Unlock()

	// 文件在上一次触发时间之前创建，说明错过了滚动
	if p.evaluateOnStartup && !ft.IsZero() && m.FileSize() > 0 && !p.schedule.Next(ft.In(loc)).After(now) {
		pp.SetPrevFileTime(ft)
		if err := m.Rollover(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cr = cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	p.cr.Schedule(p.schedule, cron.FuncJob(p.fire))
	p.cr.Start()
	return nil
}

// 后台任务，整点附近没有写入时也能滚动
func (p *CronTriggeringPolicy) fire() {
	p.mu.Lock()
	m := p.manager
	p.mu.Unlock()
	if m == nil {
		return
	}
	if p.claim(m.Now().Add(cronSlack)) {
		if err := m.Rollover(); err != nil && !errors.Is(err, ErrClosed) {
			m.Status().Error("cron rollover failed", zap.Error(err))
		}
	}
}

// 每个触发点只能被领取一次
func (p *CronTriggeringPolicy) claim(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processor == nil || now.Before(p.next) {
		return false
	}
	if p.pending == nil {
		p.pending = &cronSnapshot{next: p.next, last: p.last, times: p.processor.saveTimes()}
	}
	prev := p.last
	p.last = p.next
	p.next = p.schedule.Next(now.In(p.processor.Location()))
	p.processor.SetPrevFileTime(prev)
	p.processor.SetCurrentFileTime(now)
	return true
}

func (p *CronTriggeringPolicy) IsTriggeringEvent(st FileState, size int) bool {
	return p.claim(st.Now)
}

func (p *CronTriggeringPolicy) RolloverSucceeded() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// 恢复触发点，下一次写入或定时任务重新领取
func (p *CronTriggeringPolicy) RolloverFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return
	}
	p.next, p.last = p.pending.next, p.pending.last
	p.processor.restoreTimes(p.pending.times)
	p.pending = nil
}

func (p *CronTriggeringPolicy) NextRollover() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

func (p *CronTriggeringPolicy) Stop(ctx context.Context) error {
	p.mu.Lock()
	cr := p.cr
	p.cr = nil
	p.mu.Unlock()
	if cr == nil {
		return nil
	}
	select {
	case <-cr.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *CronTriggeringPolicy) String() string {
	return fmt.Sprintf("CronTriggeringPolicy(schedule=%s)", p.expr)
}
