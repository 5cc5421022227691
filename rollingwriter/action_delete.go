package rollingwriter

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 决定遍历结果的处理顺序
type PathSorter func(files []PathInfo)

// 默认按修改时间从新到旧
func SortByModificationTime(files []PathInfo) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Info.ModTime().After(files[j].Info.ModTime())
	})
}

type DeleteOptions struct {
	MaxDepth    int // 默认1，只处理basePath下的文件
	FollowLinks bool
	TestMode    bool // 只记录不删除
	Sorter      PathSorter
	Logger      *zap.Logger
}

// 清理basePath下满足条件的历史文件
type DeleteAction struct {
	actionState
	basePath   string
	conditions []PathCondition
	opts       DeleteOptions
}

func NewDeleteAction(basePath string, opts DeleteOptions, conditions ...PathCondition) *DeleteAction {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}
	if opts.Sorter == nil {
		opts.Sorter = SortByModificationTime
	}
	opts.Logger = orStatus(opts.Logger)
	return &DeleteAction{basePath: basePath, conditions: conditions, opts: opts}
}

func (a *DeleteAction) BasePath() string { return a.basePath }

func (a *DeleteAction) Execute(ctx context.Context) (bool, error) {
	defer a.complete.Store(true)
	files, err := a.collect()
	if err != nil {
		return false, &ActionError{Op: "delete", Path: a.basePath, Err: err}
	}
	a.opts.Sorter(files)
	resetAll(a.conditions)
	var selected []PathInfo
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if a.isInterrupted() {
			return false, context.Canceled
		}
		if acceptAll(a.basePath, f, a.conditions) {
			selected = append(selected, f)
		}
	}
	if a.opts.TestMode {
		for _, f := range selected {
			a.opts.Logger.Info("test mode: would delete", zap.String("file", f.Path))
		}
		return true, nil
	}
	return true, a.remove(ctx, selected)
}

// 选出的文件并发删除，已经不存在的忽略
func (a *DeleteAction) remove(ctx context.Context, files []PathInfo) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				mu.Lock()
				errs = append(errs, &ActionError{Op: "delete", Path: f.Path, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// 只收集文件，不超过maxDepth
func (a *DeleteAction) collect() ([]PathInfo, error) {
	if _, err := os.Stat(a.basePath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	base := filepath.Clean(a.basePath)
	var files []PathInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == base {
			return nil
		}
		rel, _ := filepath.Rel(base, p)
		depth := strings.Count(filepath.ToSlash(rel), "/") + 1
		if d.IsDir() {
			if depth >= a.opts.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := a.stat(p, d)
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, PathInfo{Path: p, Rel: filepath.ToSlash(rel), Info: info})
		return nil
	})
	return files, err
}

func (a *DeleteAction) stat(p string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 && a.opts.FollowLinks {
		return os.Stat(p)
	}
	return d.Info()
}
