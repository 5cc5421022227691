package rollingwriter

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	IndexMax   = "max"   // 最新的历史文件序号最大
	IndexMin   = "min"   // 最新的历史文件序号最小，其余依次后移
	IndexNoMax = "nomax" // 序号一直增长，不删除
)

type DefaultStrategyOptions struct {
	Min                      int
	Max                      int
	FileIndex                string
	CompressionLevel         int
	CustomActions            []Action
	ArchiveActions           []ArchiveActionFactory
	StopCustomActionsOnError bool
}

// 序号策略，当前文件重命名为带序号的历史文件
type DefaultRolloverStrategy struct {
	min              int
	max              int
	fileIndex        string
	compressionLevel int
	custom           []Action
	archive          []ArchiveActionFactory
	stopOnError      bool
}

func NewDefaultRolloverStrategy(opts DefaultStrategyOptions) (*DefaultRolloverStrategy, error) {
	s := &DefaultRolloverStrategy{
		min:              opts.Min,
		max:              opts.Max,
		fileIndex:        opts.FileIndex,
		compressionLevel: opts.CompressionLevel,
		custom:           opts.CustomActions,
		archive:          opts.ArchiveActions,
		stopOnError:      opts.StopCustomActionsOnError,
	}
	if s.fileIndex == "" {
		s.fileIndex = IndexMax
	}
	switch s.fileIndex {
	case IndexMax, IndexMin:
	case IndexNoMax:
		s.max = math.MaxInt32
	default:
		return nil, fmt.Errorf("%w: file index %q", ErrInvalidArgument, opts.FileIndex)
	}
	if s.min < 1 {
		s.min = 1
	}
	if s.max == 0 {
		s.max = 7
	}
	if s.max < s.min {
		s.max = s.min
	}
	return s, nil
}

func (s *DefaultRolloverStrategy) appendActions(custom []Action, archive []ArchiveActionFactory) {
	s.custom = append(s.custom, custom...)
	s.archive = append(s.archive, archive...)
}

func (s *DefaultRolloverStrategy) Rollover(st *RolloverState) (*RolloverDescription, error) {
	if st.FileName == "" {
		return nil, fmt.Errorf("%w: indexed rollover requires a file name", ErrInvalidArgument)
	}
	pp := st.Processor
	t := pp.ArchiveTime(st.Now)
	files, err := eligibleFiles(pp, t)
	if err != nil {
		return nil, err
	}
	var index int
	switch s.fileIndex {
	case IndexMin:
		index, err = s.purgeDescending(pp, t, files)
	case IndexNoMax:
		index = s.min
		if len(files) > 0 {
			index = files[len(files)-1].index + 1
		}
	default:
		index, err = s.purgeAscending(pp, t, files)
	}
	if err != nil {
		return nil, err
	}

	archiveName := pp.FormatFileName(t, index)
	renameTo := pp.StripExtension(archiveName)
	if renameTo == st.FileName {
		st.Logger.Warn("attempt to rename file to itself will be ignored", zap.String("file", st.FileName))
		return &RolloverDescription{ActiveFileName: st.FileName, Append: true}, nil
	}
	var compress Action
	if archiveName != renameTo {
		compress = compressActionFor(renameTo, archiveName, s.compressionLevel)
	}
	async := append([]Action{compress}, archiveActions(s.archive, archiveName)...)
	async = append(async, s.custom...)
	return &RolloverDescription{
		ActiveFileName: st.FileName,
		Synchronous:    NewFileRenameAction(st.FileName, renameTo, st.RenameEmptyFiles),
		Asynchronous:   mergeActions(s.stopOnError, async...),
	}, nil
}

// 保留目标后缀，重命名已有的历史文件
func (s *DefaultRolloverStrategy) target(pp *PatternProcessor, t time.Time, index int, f eligibleFile) string {
	return pp.StripExtension(pp.FormatFileName(t, index)) + f.ext
}

// 满了之后删除最旧的(序号最小)，其余序号减一，返回新文件的序号
func (s *DefaultRolloverStrategy) purgeAscending(pp *PatternProcessor, t time.Time, files []eligibleFile) (int, error) {
	files = trimBelow(files, s.min)
	maxFiles := s.max - s.min + 1
	shift := len(files) > 0 && files[len(files)-1].index >= s.max
	for len(files) >= maxFiles {
		if err := removeFile(files[0].path); err != nil {
			return -1, err
		}
		files = files[1:]
		shift = true
	}
	if !shift {
		if len(files) == 0 {
			return s.min, nil
		}
		return files[len(files)-1].index + 1, nil
	}
	for i, f := range files {
		to := s.target(pp, t, s.min+i, f)
		if to == f.path {
			continue
		}
		if err := renameFile(f.path, to); err != nil {
			return -1, err
		}
	}
	return s.min + len(files), nil
}

// 序号大的移出范围后删除，其余序号加一，新文件总是min
func (s *DefaultRolloverStrategy) purgeDescending(pp *PatternProcessor, t time.Time, files []eligibleFile) (int, error) {
	files = trimBelow(files, s.min)
	maxFiles := s.max - s.min + 1
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.index >= s.max || i >= maxFiles-1 {
			if err := removeFile(f.path); err != nil {
				return -1, err
			}
			continue
		}
		if err := renameFile(f.path, s.target(pp, t, f.index+1, f)); err != nil {
			return -1, err
		}
	}
	return s.min, nil
}

func trimBelow(files []eligibleFile, min int) []eligibleFile {
	for len(files) > 0 && files[0].index < min {
		files = files[1:]
	}
	return files
}

// 扫描之后被删掉的文件忽略
func removeFile(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ActionError{Op: "delete", Path: p, Err: err}
	}
	return nil
}

func renameFile(from, to string) error {
	if err := os.Rename(from, to); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ActionError{Op: "rename", Path: from, Err: err}
	}
	return nil
}

func (s *DefaultRolloverStrategy) String() string {
	return fmt.Sprintf("DefaultRolloverStrategy(min=%d, max=%d, fileIndex=%s)", s.min, s.max, s.fileIndex)
}
