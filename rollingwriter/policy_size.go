package rollingwriter

import "fmt"

// 按文件大小触发
type SizeBasedTriggeringPolicy struct {
	maxFileSize int64
	processor   *PatternProcessor
}

func NewSizeBasedTriggeringPolicy(maxFileSize int64) (*SizeBasedTriggeringPolicy, error) {
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("%w: max file size %d", ErrInvalidArgument, maxFileSize)
	}
	return &SizeBasedTriggeringPolicy{maxFileSize: maxFileSize}, nil
}

func (p *SizeBasedTriggeringPolicy) MaxFileSize() int64 {
	return p.maxFileSize
}

func (p *SizeBasedTriggeringPolicy) Initialize(m *RollingFileManager) error {
	p.processor = m.PatternProcessor()
	return nil
}

// 空文件不触发，避免单条超大日志反复滚动
func (p *SizeBasedTriggeringPolicy) IsTriggeringEvent(st FileState, size int) bool {
	if st.Size <= 0 || st.Size+int64(size) < p.maxFileSize {
		return false
	}
	if p.processor != nil {
		p.processor.UpdateTime()
	}
	return true
}

func (p *SizeBasedTriggeringPolicy) String() string {
	return fmt.Sprintf("SizeBasedTriggeringPolicy(size=%d)", p.maxFileSize)
}
