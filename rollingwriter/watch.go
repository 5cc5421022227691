package rollingwriter

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// 监听当前文件所在目录，文件被删除或改名时做标记，由写入方确认
type fileWatcher struct {
	w       *fsnotify.Watcher
	log     *zap.Logger
	mu      sync.Mutex
	name    string
	dir     string
	changed atomic.Bool
	done    chan struct{}
}

func newFileWatcher(name string, log *zap.Logger) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fileWatcher{w: w, log: log, done: make(chan struct{})}
	if err := fw.watch(name); err != nil {
		w.Close()
		return nil, err
	}
	go fw.loop()
	return fw, nil
}

// 滚动后目录可能变化
func (fw *fileWatcher) watch(name string) error {
	name = filepath.Clean(name)
	dir := filepath.Dir(name)
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.name = name
	if dir == fw.dir {
		return nil
	}
	if fw.dir != "" {
		_ = fw.w.Remove(fw.dir)
	}
	if err := fw.w.Add(dir); err != nil {
		return err
	}
	fw.dir = dir
	return nil
}

func (fw *fileWatcher) loop() {
	defer close(fw.done)
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			fw.mu.Lock()
			match := filepath.Clean(ev.Name) == fw.name
			fw.mu.Unlock()
			if match {
				fw.changed.Store(true)
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			fw.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

// 读取并清除标记
func (fw *fileWatcher) takeChanged() bool {
	return fw.changed.Swap(false)
}

func (fw *fileWatcher) close() error {
	err := fw.w.Close()
	<-fw.done
	return err
}
