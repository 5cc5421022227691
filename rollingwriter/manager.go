package rollingwriter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// 管理当前文件的写入和滚动，并发安全
type RollingFileManager struct {
	mu     sync.Mutex
	file   *os.File
	info   os.FileInfo
	buf    *bufio.Writer
	opened bool
	closed bool

	// 以下三个字段在持有mu时修改，同时加stateMu，getter只加stateMu
	stateMu     sync.RWMutex
	fileName    string
	size        int64 // 自上次滚动以来写入的字节数，不含header
	initialTime time.Time

	policy    TriggeringPolicy
	strategy  RolloverStrategy
	processor *PatternProcessor
	listeners listenerSet
	sem       *semaphore.Weighted // 同一时间只有一次滚动，异步动作完成后释放
	wg        sync.WaitGroup
	status    *zap.Logger
	now       func() time.Time

	appendMode       bool
	bufferedIO       bool
	bufferSize       int
	immediateFlush   bool
	createOnDemand   bool
	perm             os.FileMode
	header           func() []byte
	footer           func() []byte
	renameEmptyFiles atomic.Bool
	checkInterval    time.Duration
	lastCheck        time.Time
	watcher          *fileWatcher
	shutdownTimeout  time.Duration
	closers          []io.Closer

	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
}

// 打开当前文件并初始化触发策略
func (m *RollingFileManager) start(watch bool) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.sem = semaphore.NewWeighted(1)
	m.listeners.log = m.status

	if m.fileName == "" {
		namer, ok := m.strategy.(DirectFileNamer)
		if !ok {
			m.release()
			return fmt.Errorf("%w: file name is required unless the strategy writes directly", ErrInvalidArgument)
		}
		name, err := namer.CurrentFileName(m.rolloverState(m.now()))
		if err != nil {
			m.release()
			return err
		}
		m.setFileName(name)
	}

	created, size := m.now(), int64(0)
	if info, err := os.Stat(m.fileName); err == nil && m.appendMode {
		created, size = info.ModTime(), info.Size()
	}
	m.stateMu.Lock()
	m.initialTime, m.size = created, size
	m.stateMu.Unlock()
	if !m.createOnDemand {
		if err := m.openLocked(m.appendMode); err != nil {
			m.release()
			return err
		}
	}
	if watch {
		fw, err := newFileWatcher(m.fileName, m.status)
		if err != nil {
			m.status.Warn("file watcher unavailable, using periodic checks", zap.Error(err))
		} else {
			m.watcher = fw
		}
	}
	if err := m.policy.Initialize(m); err != nil {
		if s, ok := m.policy.(Stopper); ok {
			_ = s.Stop(context.Background())
		}
		m.mu.Lock()
		_ = m.closeFileLocked()
		m.mu.Unlock()
		if m.watcher != nil {
			_ = m.watcher.close()
		}
		m.release()
		return err
	}
	return nil
}

func (m *RollingFileManager) openLocked(appendMode bool) error {
	if !m.opened {
		appendMode = m.appendMode
	}
	if err := os.MkdirAll(filepath.Dir(m.fileName), DefaultDirMode); err != nil {
		return err
	}
	flag := DefaultFileFlag
	if !appendMode {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(m.fileName, flag, m.perm)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	m.file = f
	m.info = info
	m.setSize(info.Size())
	m.opened = true
	m.lastCheck = m.now()
	m.buf = nil
	if m.bufferedIO {
		m.buf = bufio.NewWriterSize(f, m.bufferSize)
	}
	if m.size == 0 && m.header != nil {
		if h := m.header(); len(h) > 0 {
			if _, err := m.out().Write(h); err != nil {
				m.status.Warn("failed to write header", zap.String("file", m.fileName), zap.Error(err))
			}
		}
	}
	if m.watcher != nil {
		if err := m.watcher.watch(m.fileName); err != nil {
			m.status.Warn("failed to watch file", zap.String("file", m.fileName), zap.Error(err))
		}
	}
	return nil
}

func (m *RollingFileManager) out() io.Writer {
	if m.buf != nil {
		return m.buf
	}
	return m.file
}

// 写入footer后关闭
func (m *RollingFileManager) closeFileLocked() error {
	if m.file == nil {
		return nil
	}
	if m.footer != nil {
		if b := m.footer(); len(b) > 0 {
			_, _ = m.out().Write(b)
		}
	}
	var err error
	if m.buf != nil {
		err = m.buf.Flush()
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	m.file = nil
	m.buf = nil
	return err
}

func (m *RollingFileManager) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.now()
	m.checkFileLocked(now)
	if m.policy.IsTriggeringEvent(m.stateLocked(now), len(p)) {
		if err := m.rolloverLocked(now); err != nil {
			m.status.Error("rollover failed", zap.String("file", m.fileName), zap.Error(err))
		}
	}
	if m.file == nil {
		if err := m.openLocked(true); err != nil {
			return 0, err
		}
	}
	n, err := m.out().Write(p)
	m.setSize(m.size + int64(n))
	if err == nil && m.buf != nil && m.immediateFlush {
		err = m.buf.Flush()
	}
	return n, err
}

// 文件被外部删除或替换时重新创建
func (m *RollingFileManager) checkFileLocked(now time.Time) {
	if m.file == nil || m.checkInterval < 0 {
		return
	}
	hint := m.watcher != nil && m.watcher.takeChanged()
	if !hint && m.checkInterval > 0 && now.Sub(m.lastCheck) < m.checkInterval {
		return
	}
	m.lastCheck = now
	info, err := os.Stat(m.fileName)
	if err == nil && os.SameFile(info, m.info) {
		return
	}
	m.status.Warn("file was removed or replaced, recreating", zap.String("file", m.fileName))
	_ = m.closeFileLocked()
	if err := m.openLocked(true); err != nil {
		m.status.Error("failed to recreate file", zap.String("file", m.fileName), zap.Error(err))
	}
}

func (m *RollingFileManager) stateLocked(now time.Time) FileState {
	return FileState{Name: m.fileName, Size: m.size, Created: m.initialTime, Now: now}
}

func (m *RollingFileManager) rolloverState(now time.Time) *RolloverState {
	return &RolloverState{
		FileName:         m.fileName,
		Processor:        m.processor,
		Now:              now,
		Logger:           m.status,
		RenameEmptyFiles: m.renameEmptyFiles.Load(),
	}
}

// 立即滚动一次
func (m *RollingFileManager) Rollover() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.rolloverLocked(m.now())
}

func (m *RollingFileManager) rolloverLocked(now time.Time) error {
	current := m.fileName
	m.listeners.triggered(current)
	// 等待上一次的异步动作完成
	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.notifyPolicy(false)
		m.listeners.complete(current)
		return err
	}
	async, err := m.switchFileLocked(now)
	// 文件已经移走时即使新文件打开失败也算成功
	m.notifyPolicy(err == nil || !errors.Is(err, ErrRolloverFailed))
	if async == nil {
		m.sem.Release(1)
		m.listeners.complete(current)
		return err
	}
	m.wg.Add(1)
	go m.runAsync(async, current)
	return err
}

// 执行同步动作并打开新文件，返回需要后台执行的动作
func (m *RollingFileManager) switchFileLocked(now time.Time) (Action, error) {
	desc, err := m.strategy.Rollover(m.rolloverState(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRolloverFailed, err)
	}
	if desc == nil {
		return nil, nil
	}
	if err := m.closeFileLocked(); err != nil {
		m.status.Warn("failed to close file before rollover", zap.String("file", m.fileName), zap.Error(err))
	}
	if desc.Synchronous != nil {
		ok, err := desc.Synchronous.Execute(m.ctx)
		if err != nil || !ok {
			// 文件没有移动，继续追加
			if oerr := m.openLocked(true); oerr != nil {
				err = errors.Join(err, oerr)
			}
			if err == nil {
				err = errors.New("synchronous action did not complete")
			}
			return nil, fmt.Errorf("%w: %w", ErrRolloverFailed, err)
		}
	}
	m.stateMu.Lock()
	m.fileName = desc.ActiveFileName
	m.size = 0
	m.initialTime = now
	m.stateMu.Unlock()
	if !m.createOnDemand {
		if err := m.openLocked(desc.Append); err != nil {
			return desc.Asynchronous, fmt.Errorf("create %s after rollover: %w", m.fileName, err)
		}
	}
	return desc.Asynchronous, nil
}

func (m *RollingFileManager) notifyPolicy(ok bool) {
	o, isObserver := m.policy.(RolloverObserver)
	if !isObserver {
		return
	}
	if ok {
		o.RolloverSucceeded()
	} else {
		o.RolloverFailed()
	}
}

func (m *RollingFileManager) runAsync(a Action, name string) {
	defer m.wg.Done()
	if _, err := a.Execute(m.ctx); err != nil {
		m.status.Error("asynchronous rollover action failed", zap.String("file", name), zap.Error(err))
	}
	m.sem.Release(1)
	m.listeners.complete(name)
}

// Close 停止触发策略，关闭文件，并等待异步动作完成
// ctx 没有截止时间时使用 ShutdownTimeout
func (m *RollingFileManager) Close(ctx context.Context) error {
	if !m.closing.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var errs []error
	if s, ok := m.policy.(Stopper); ok {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.mu.Lock()
	m.closed = true
	if err := m.closeFileLocked(); err != nil {
		errs = append(errs, err)
	}
	if m.watcher != nil {
		_ = m.watcher.close()
		m.watcher = nil
	}
	m.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && m.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.shutdownTimeout)
		defer cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.status.Error("timed out waiting for asynchronous rollover actions", zap.String("file", m.FileName()))
		errs = append(errs, ErrShutdownTimeout)
	}
	m.release()
	return errors.Join(errs...)
}

func (m *RollingFileManager) release() {
	m.cancel()
	closeResources(m.closers, m.status)
	m.closers = nil
}

func (m *RollingFileManager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf == nil {
		return nil
	}
	return m.buf.Flush()
}

func (m *RollingFileManager) setFileName(name string) {
	m.stateMu.Lock()
	m.fileName = name
	m.stateMu.Unlock()
}

func (m *RollingFileManager) setSize(n int64) {
	m.stateMu.Lock()
	m.size = n
	m.stateMu.Unlock()
}

func (m *RollingFileManager) FileName() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.fileName
}

func (m *RollingFileManager) FileSize() int64 {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.size
}

// 当前文件的创建时间，已有文件取修改时间
func (m *RollingFileManager) FileTime() time.Time {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.initialTime
}

func (m *RollingFileManager) FileExists() bool {
	_, err := os.Stat(m.FileName())
	return err == nil
}

func (m *RollingFileManager) PatternProcessor() *PatternProcessor { return m.processor }

func (m *RollingFileManager) Policy() TriggeringPolicy { return m.policy }

func (m *RollingFileManager) Strategy() RolloverStrategy { return m.strategy }

func (m *RollingFileManager) Status() *zap.Logger { return m.status }

func (m *RollingFileManager) Now() time.Time { return m.now() }

func (m *RollingFileManager) SetRenameEmptyFiles(b bool) { m.renameEmptyFiles.Store(b) }

func (m *RollingFileManager) AddListener(l RolloverListener) { m.listeners.add(l) }

func (m *RollingFileManager) RemoveListener(l RolloverListener) { m.listeners.remove(l) }
