package rollingwriter

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 滚动时策略能看到的管理器状态
type RolloverState struct {
	FileName         string
	Processor        *PatternProcessor
	Now              time.Time
	Logger           *zap.Logger
	RenameEmptyFiles bool
}

// 一次滚动要做的事：同步动作在打开新文件之前完成，异步动作在后台执行
type RolloverDescription struct {
	ActiveFileName string
	Append         bool
	Synchronous    Action
	Asynchronous   Action
}

// 返回nil表示这次不滚动
type RolloverStrategy interface {
	Rollover(st *RolloverState) (*RolloverDescription, error)
}

// 直写策略自己决定当前文件名
type DirectFileNamer interface {
	CurrentFileName(st *RolloverState) (string, error)
}

type StrategyFactory func(c StrategyConfig) (RolloverStrategy, error)

var (
	strategyMu        sync.RWMutex
	strategyFactories = map[string]StrategyFactory{}
)

func RegisterStrategy(name string, f StrategyFactory) {
	strategyMu.Lock()
	defer strategyMu.Unlock()
	strategyFactories[name] = f
}

func NewStrategy(c StrategyConfig) (RolloverStrategy, error) {
	name := c.Type
	if name == "" {
		name = "default"
	}
	strategyMu.RLock()
	f, ok := strategyFactories[name]
	strategyMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown rollover strategy %q", ErrInvalidArgument, name)
	}
	return f(c)
}

func init() {
	RegisterStrategy("default", func(c StrategyConfig) (RolloverStrategy, error) {
		return NewDefaultRolloverStrategy(DefaultStrategyOptions{
			Min:                      c.Min,
			Max:                      c.Max,
			FileIndex:                c.FileIndex,
			CompressionLevel:         c.CompressionLevel,
			StopCustomActionsOnError: c.StopCustomActionsOnError,
		})
	})
	RegisterStrategy("direct", func(c StrategyConfig) (RolloverStrategy, error) {
		return NewDirectWriteRolloverStrategy(DirectWriteOptions{
			MaxFiles:                 c.MaxFiles,
			CompressionLevel:         c.CompressionLevel,
			StopCustomActionsOnError: c.StopCustomActionsOnError,
		})
	})
}

// 配置中的清理和上传动作由构造器追加
type actionAppender interface {
	appendActions(custom []Action, archive []ArchiveActionFactory)
}

type eligibleFile struct {
	index int
	path  string
	ext   string
}

// 扫描某个周期内的历史文件，按序号升序
func eligibleFiles(pp *PatternProcessor, t time.Time) ([]eligibleFile, error) {
	dir, re, err := pp.fileRegexp(t)
	if err != nil {
		return nil, err
	}
	scan := dir
	if scan == "" {
		scan = "."
	}
	entries, err := os.ReadDir(scan)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []eligibleFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := dir + e.Name()
		m := re.FindStringSubmatch(p)
		if m == nil || m[1] == "" {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		files = append(files, eligibleFile{index: idx, path: p, ext: m[2]})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

// 历史文件生成后要执行的动作
func archiveActions(factories []ArchiveActionFactory, archive string) []Action {
	actions := make([]Action, 0, len(factories))
	for _, f := range factories {
		if a := f(archive); a != nil {
			actions = append(actions, a)
		}
	}
	return actions
}
