package rollingwriter

import (
	"fmt"
	"time"
)

// 启动时如果已有文件满足条件，写入任何数据之前先滚动一次
type OnStartupTriggeringPolicy struct {
	minSize int64
	minAge  time.Duration
}

func NewOnStartupTriggeringPolicy(minSize int64, minAge time.Duration) (*OnStartupTriggeringPolicy, error) {
	if minSize < 0 || minAge < 0 {
		return nil, fmt.Errorf("%w: on startup policy min size %d min age %s", ErrInvalidArgument, minSize, minAge)
	}
	return &OnStartupTriggeringPolicy{minSize: minSize, minAge: minAge}, nil
}

func (p *OnStartupTriggeringPolicy) Initialize(m *RollingFileManager) error {
	if !m.FileExists() {
		return nil
	}
	ft := m.FileTime()
	if m.FileSize() < p.minSize || m.Now().Sub(ft) < p.minAge {
		return nil
	}
	if p.minSize == 0 {
		m.SetRenameEmptyFiles(true)
	}
	m.PatternProcessor().SetPrevFileTime(ft)
	return m.Rollover()
}

func (p *OnStartupTriggeringPolicy) IsTriggeringEvent(FileState, int) bool {
	return false
}

func (p *OnStartupTriggeringPolicy) String() string {
	return fmt.Sprintf("OnStartupTriggeringPolicy(minSize=%d)", p.minSize)
}
