package rollingwriter

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type DirectWriteOptions struct {
	MaxFiles                 int // 每个周期保留的文件数，0为不限制
	CompressionLevel         int
	CustomActions            []Action
	ArchiveActions           []ArchiveActionFactory
	StopCustomActionsOnError bool
}

// 直写策略，直接写入带序号的文件，滚动时不重命名
type DirectWriteRolloverStrategy struct {
	maxFiles         int
	compressionLevel int
	custom           []Action
	archive          []ArchiveActionFactory
	stopOnError      bool

	mu      sync.Mutex
	current string
}

func NewDirectWriteRolloverStrategy(opts DirectWriteOptions) (*DirectWriteRolloverStrategy, error) {
	if opts.MaxFiles < 0 {
		return nil, fmt.Errorf("%w: max files %d", ErrInvalidArgument, opts.MaxFiles)
	}
	return &DirectWriteRolloverStrategy{
		maxFiles:         opts.MaxFiles,
		compressionLevel: opts.CompressionLevel,
		custom:           opts.CustomActions,
		archive:          opts.ArchiveActions,
		stopOnError:      opts.StopCustomActionsOnError,
	}, nil
}

func (s *DirectWriteRolloverStrategy) appendActions(custom []Action, archive []ArchiveActionFactory) {
	s.custom = append(s.custom, custom...)
	s.archive = append(s.archive, archive...)
}

// 当前文件名，第一次调用时根据已有文件决定序号
func (s *DirectWriteRolloverStrategy) CurrentFileName(st *RolloverState) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		name, err := s.nextFileName(st, "")
		if err != nil {
			return "", err
		}
		s.current = name
	}
	return s.current, nil
}

// 同一周期内已有文件的最大序号加一，超出maxFiles时删除最旧的
func (s *DirectWriteRolloverStrategy) nextFileName(st *RolloverState, active string) (string, error) {
	pp := st.Processor
	t := pp.CurrentTime(st.Now)
	files, err := eligibleFiles(pp, t)
	if err != nil {
		return "", err
	}
	index := 1
	if len(files) > 0 {
		index = files[len(files)-1].index + 1
	}
	if s.maxFiles > 0 {
		for len(files) >= s.maxFiles {
			f := files[0]
			files = files[1:]
			if f.path == active || f.path == active+f.ext {
				continue
			}
			if err := removeFile(f.path); err != nil {
				st.Logger.Warn("failed to delete old file", zap.String("file", f.path), zap.Error(err))
			}
		}
	}
	return pp.StripExtension(pp.FormatFileName(t, index)), nil
}

func (s *DirectWriteRolloverStrategy) Rollover(st *RolloverState) (*RolloverDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source := st.FileName
	if source == "" {
		source = s.current
	}
	next, err := s.nextFileName(st, source)
	if err != nil {
		return nil, err
	}
	if next == source {
		return nil, nil
	}
	s.current = next

	var async []Action
	archive := source
	if ext := st.Processor.Extension(); ext != nil {
		archive = source + ext.Suffix
		async = append(async, ext.NewCompressAction(source, archive, true, s.compressionLevel))
	}
	async = append(async, archiveActions(s.archive, archive)...)
	async = append(async, s.custom...)
	return &RolloverDescription{
		ActiveFileName: next,
		Append:         true,
		Asynchronous:   mergeActions(s.stopOnError, async...),
	}, nil
}

func (s *DirectWriteRolloverStrategy) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("DirectWriteRolloverStrategy(maxFiles=%d, current=%s)", s.maxFiles, s.current)
}

var _ DirectFileNamer = (*DirectWriteRolloverStrategy)(nil)
