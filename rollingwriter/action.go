package rollingwriter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// 滚动时执行的动作，同步动作在管理器锁内执行，异步动作在后台协程执行
type Action interface {
	Execute(ctx context.Context) (bool, error)
	// Close 请求中断，正在执行的动作尽快返回
	Close()
	IsComplete() bool
}

// 动作失败时的错误
type ActionError struct {
	Op   string
	Path string
	Err  error
}

func (e *ActionError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *ActionError) Unwrap() error { return e.Err }

type actionState struct {
	complete    atomic.Bool
	interrupted atomic.Bool
}

func (a *actionState) Close() { a.interrupted.Store(true) }
func (a *actionState) IsComplete() bool { return a.complete.Load() }
func (a *actionState) isInterrupted() bool { return a.interrupted.Load() }

// 函数形式的动作
type ActionFunc func(ctx context.Context) (bool, error)

func (f ActionFunc) Execute(ctx context.Context) (bool, error) { return f(ctx) }
func (f ActionFunc) Close() {}
func (f ActionFunc) IsComplete() bool { return false }

// 依次执行多个动作
type CompositeAction struct {
	actionState
	actions     []Action
	stopOnError bool
}

func NewCompositeAction(stopOnError bool, actions ...Action) *CompositeAction {
	return &CompositeAction{actions: actions, stopOnError: stopOnError}
}

func (a *CompositeAction) Execute(ctx context.Context) (bool, error) {
	defer a.complete.Store(true)
	ok := true
	var errs []error
	for _, act := range a.actions {
		if a.isInterrupted() {
			return false, errors.Join(append(errs, context.Canceled)...)
		}
		if err := ctx.Err(); err != nil {
			return false, errors.Join(append(errs, err)...)
		}
		done, err := act.Execute(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if !done || err != nil {
			ok = false
			if a.stopOnError {
				break
			}
		}
	}
	return ok, errors.Join(errs...)
}

func (a *CompositeAction) Close() {
	a.actionState.Close()
	for _, act := range a.actions {
		act.Close()
	}
}

// 去掉nil后组合，只有一个时直接返回
func mergeActions(stopOnError bool, actions ...Action) Action {
	list := make([]Action, 0, len(actions))
	for _, a := range actions {
		if a != nil {
			list = append(list, a)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return NewCompositeAction(stopOnError, list...)
}

// 重命名当前文件
type FileRenameAction struct {
	actionState
	source           string
	destination      string
	renameEmptyFiles bool
}

func NewFileRenameAction(source, destination string, renameEmptyFiles bool) *FileRenameAction {
	return &FileRenameAction{source: source, destination: destination, renameEmptyFiles: renameEmptyFiles}
}

func (a *FileRenameAction) Source() string { return a.source }
func (a *FileRenameAction) Destination() string { return a.destination }

// 源文件不存在视为成功，空文件在不重命名时直接删除
func (a *FileRenameAction) Execute(ctx context.Context) (bool, error) {
	defer a.complete.Store(true)
	info, err := os.Stat(a.source)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, &ActionError{Op: "rename", Path: a.source, Err: err}
	}
	if info.Size() == 0 && !a.renameEmptyFiles {
		if err := os.Remove(a.source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, &ActionError{Op: "rename", Path: a.source, Err: err}
		}
		return true, nil
	}
	if dir := filepath.Dir(a.destination); dir != "" {
		if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
			return false, &ActionError{Op: "rename", Path: a.destination, Err: err}
		}
	}
	if err := os.Rename(a.source, a.destination); err != nil {
		// 跨设备时复制后清空源文件
		if cerr := copyAndTruncate(a.source, a.destination); cerr != nil {
			return false, &ActionError{Op: "rename", Path: a.source, Err: errors.Join(err, cerr)}
		}
	}
	return true, nil
}

func (a *FileRenameAction) String() string {
	return fmt.Sprintf("FileRenameAction[%s to %s, renameEmptyFiles=%t]", a.source, a.destination, a.renameEmptyFiles)
}

func copyAndTruncate(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(destination)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Truncate(source, 0)
}

// 删除单个文件
type FileDeleteAction struct {
	actionState
	path string
}

func NewFileDeleteAction(path string) *FileDeleteAction {
	return &FileDeleteAction{path: path}
}

func (a *FileDeleteAction) Execute(ctx context.Context) (bool, error) {
	defer a.complete.Store(true)
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, &ActionError{Op: "delete", Path: a.path, Err: err}
	}
	return true, nil
}
