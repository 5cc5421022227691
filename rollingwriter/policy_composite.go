package rollingwriter

import (
	"context"
	"errors"
	"strings"
)

// 组合策略，任意一个触发即滚动
type CompositeTriggeringPolicy struct {
	policies []TriggeringPolicy
}

func NewCompositeTriggeringPolicy(policies ...TriggeringPolicy) *CompositeTriggeringPolicy {
	return &CompositeTriggeringPolicy{policies: policies}
}

func (p *CompositeTriggeringPolicy) Policies() []TriggeringPolicy {
	return p.policies
}

func (p *CompositeTriggeringPolicy) Initialize(m *RollingFileManager) error {
	var errs []error
	for _, child := range p.policies {
		if err := child.Initialize(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// 每个子策略都要询问，各自的状态才能保持一致
func (p *CompositeTriggeringPolicy) IsTriggeringEvent(st FileState, size int) bool {
	triggered := false
	for _, child := range p.policies {
		if child.IsTriggeringEvent(st, size) {
			triggered = true
		}
	}
	return triggered
}

func (p *CompositeTriggeringPolicy) RolloverSucceeded() {
	for _, child := range p.policies {
		if o, ok := child.(RolloverObserver); ok {
			o.RolloverSucceeded()
		}
	}
}

// 逆序恢复，先触发的策略最后恢复
func (p *CompositeTriggeringPolicy) RolloverFailed() {
	for i := len(p.policies) - 1; i >= 0; i-- {
		if o, ok := p.policies[i].(RolloverObserver); ok {
			o.RolloverFailed()
		}
	}
}

func (p *CompositeTriggeringPolicy) Stop(ctx context.Context) error {
	var errs []error
	for _, child := range p.policies {
		if s, ok := child.(Stopper); ok {
			if err := s.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *CompositeTriggeringPolicy) String() string {
	names := make([]string, 0, len(p.policies))
	for _, child := range p.policies {
		if s, ok := child.(interface{ String() string }); ok {
			names = append(names, s.String())
		}
	}
	return "CompositeTriggeringPolicy(" + strings.Join(names, ", ") + ")"
}
