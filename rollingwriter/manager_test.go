package rollingwriter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestManagerConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithRollingVolumeSize("2KB"), WithIndexedStrategy(1, 0, IndexNoMax))
	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := m.Write([]byte(fmt.Sprintf("worker %02d message %05d\n", w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, m.Close(context.Background()))

	seen := map[string]bool{}
	for _, name := range listDir(t, dir) {
		for _, line := range readLines(t, filepath.Join(dir, name)) {
			assert.False(t, seen[line], line)
			seen[line] = true
		}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestManagerAppendsExistingFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	writeFile(t, name, "old\n")
	modified := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(name, modified, modified))

	m := newTestManager(t, dir)
	assert.Equal(t, int64(4), m.FileSize())
	assert.True(t, modified.Equal(m.FileTime()))
	_, err := m.Write([]byte("new\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.FileSize())
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "old\nnew\n", readFile(t, name))

	m = newTestManager(t, dir, WithAppend(false))
	_, err = m.Write([]byte("fresh\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "fresh\n", readFile(t, name))
}

func TestManagerRecreatesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	core, logs := observer.New(zap.WarnLevel)
	// 默认每次写入都检查
	m := newTestManager(t, dir, WithStatusLogger(zap.New(core)))

	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(name))
	_, err = m.Write([]byte("b\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, "b\n", readFile(t, name))
	assert.Equal(t, 1, logs.FilterMessage("file was removed or replaced, recreating").Len())
}

func TestManagerWatchFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	m := newTestManager(t, dir, WithWatchFile(), WithFileCheckInterval(time.Hour))
	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(name))

	// 监听到删除后，下一次写入会重新创建文件
	assert.Eventually(t, func() bool { return m.watcher.changed.Load() }, 2*time.Second, 10*time.Millisecond)
	_, err = m.Write([]byte("b\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "b\n", readFile(t, name))
}

func TestManagerSynchronousActionFailure(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	boom := errors.New("boom")
	strategy := &stubStrategy{rollover: func(st *RolloverState) (*RolloverDescription, error) {
		return &RolloverDescription{
			ActiveFileName: filepath.Join(dir, "other.log"),
			Synchronous:    ActionFunc(func(context.Context) (bool, error) { return false, boom }),
		}, nil
	}}
	m := newTestManager(t, dir, WithRolloverStrategy(strategy))

	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	err = m.Rollover()
	assert.ErrorIs(t, err, ErrRolloverFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, name, m.FileName())
	assert.Equal(t, int64(2), m.FileSize())

	_, err = m.Write([]byte("b\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "a\nb\n", readFile(t, name))
	assert.NoFileExists(t, filepath.Join(dir, "other.log"))
}

func TestManagerStrategyError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	strategy := &stubStrategy{rollover: func(*RolloverState) (*RolloverDescription, error) { return nil, boom }}
	m := newTestManager(t, dir, WithRolloverStrategy(strategy))
	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, m.Rollover(), boom)
	_, err = m.Write([]byte("b\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "a\nb\n", readFile(t, filepath.Join(dir, "app.log")))
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) listener(id string) *ListenerFuncs {
	return &ListenerFuncs{
		Triggered: func(name string) { r.add(id + " triggered " + filepath.Base(name)) },
		Complete:  func(name string) { r.add(id + " complete " + filepath.Base(name)) },
	}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestManagerListeners(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	first, second := rec.listener("first"), rec.listener("second")
	m := newTestManager(t, dir,
		WithFilePattern(filepath.Join(dir, "app-%i.log.gz")),
		WithListener(first),
	)
	m.AddListener(second)
	writeAndRoll(t, m, "a\n")
	// 压缩在后台完成后才通知complete
	require.Eventually(t, func() bool { return len(rec.list()) == 4 }, 5*time.Second, 10*time.Millisecond)

	m.RemoveListener(second)
	writeAndRoll(t, m, "b\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{
		"first triggered app.log",
		"second triggered app.log",
		"first complete app.log",
		"second complete app.log",
		"first triggered app.log",
		"first complete app.log",
	}, rec.list())
}

func TestManagerListenerReadsState(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	m := newTestManager(t, dir, WithRollingVolumeSize("10"))
	rec := &recorder{}
	state := func(event string) {
		rec.add(fmt.Sprintf("%s %s %d %t %t", event, filepath.Base(m.FileName()), m.FileSize(), m.FileExists(), m.FileTime().IsZero()))
	}
	m.AddListener(&ListenerFuncs{
		Triggered: func(string) { state("triggered") },
		Complete:  func(string) { state("complete") },
	})

	done := make(chan error, 1)
	go func() {
		if _, err := m.Write([]byte("0123456789")); err != nil {
			done <- err
			return
		}
		_, err := m.Write([]byte("abc\n"))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write blocked while a listener read the manager state")
	}
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{
		"triggered app.log 10 true false",
		"complete app.log 0 true false",
	}, rec.list())
	assert.Equal(t, "0123456789", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, "abc\n", readFile(t, name))
}

func TestManagerListenerPanic(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.ErrorLevel)
	m := newTestManager(t, dir,
		WithStatusLogger(zap.New(core)),
		WithListener(&ListenerFuncs{Triggered: func(string) { panic("listener failed") }}),
	)
	writeAndRoll(t, m, "a\n")
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "a\n", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, 1, logs.FilterMessage("rollover listener panicked").Len())
}

func TestManagerShutdownTimeout(t *testing.T) {
	dir := t.TempDir()
	started := make(chan struct{})
	strategy := &stubStrategy{rollover: func(st *RolloverState) (*RolloverDescription, error) {
		return &RolloverDescription{
			ActiveFileName: st.FileName,
			Append:         true,
			Asynchronous: ActionFunc(func(ctx context.Context) (bool, error) {
				close(started)
				<-ctx.Done()
				return false, ctx.Err()
			}),
		}, nil
	}}
	m := newTestManager(t, dir, WithRolloverStrategy(strategy), WithShutdownTimeout(50*time.Millisecond))
	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	require.NoError(t, m.Rollover())
	<-started

	err = m.Close(context.Background())
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	assert.ErrorIs(t, m.Close(context.Background()), ErrClosed)
}

func TestManagerWaitsForAsyncActions(t *testing.T) {
	dir := t.TempDir()
	var done sync.WaitGroup
	done.Add(1)
	finished := false
	strategy := &stubStrategy{rollover: func(st *RolloverState) (*RolloverDescription, error) {
		return &RolloverDescription{
			ActiveFileName: st.FileName,
			Append:         true,
			Asynchronous: ActionFunc(func(ctx context.Context) (bool, error) {
				defer done.Done()
				time.Sleep(50 * time.Millisecond)
				finished = true
				return true, nil
			}),
		}, nil
	}}
	m := newTestManager(t, dir, WithRolloverStrategy(strategy))
	require.NoError(t, m.Rollover())
	require.NoError(t, m.Close(context.Background()))
	done.Wait()
	assert.True(t, finished)
}

func TestManagerHeaderFooter(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir,
		WithHeader(func() []byte { return []byte("H\n") }),
		WithFooter(func() []byte { return []byte("F\n") }),
	)
	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	// header不计入大小
	assert.Equal(t, int64(2), m.FileSize())
	require.NoError(t, m.Rollover())
	_, err = m.Write([]byte("b\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, "H\na\nF\n", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, "H\nb\nF\n", readFile(t, filepath.Join(dir, "app.log")))
}

func TestManagerCreateOnDemand(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithCreateOnDemand())
	assert.False(t, m.FileExists())
	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	assert.True(t, m.FileExists())

	require.NoError(t, m.Rollover())
	assert.False(t, m.FileExists())
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, "a\n", readFile(t, filepath.Join(dir, "app-1.log")))
}

func TestManagerBufferedIO(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	m := newTestManager(t, dir, WithBufferedIO(true, 4096), WithImmediateFlush(false))
	_, err := m.Write([]byte("a\n"))
	require.NoError(t, err)
	assert.Equal(t, "", readFile(t, name))
	require.NoError(t, m.Flush())
	assert.Equal(t, "a\n", readFile(t, name))
	require.NoError(t, m.Close(context.Background()))
}

func TestManagerClosed(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)
	require.NoError(t, m.Close(context.Background()))
	_, err := m.Write([]byte("a\n"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Rollover(), ErrClosed)
	assert.ErrorIs(t, m.Close(context.Background()), ErrClosed)
}

func TestManagerFilePermissions(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithFilePermissions("rw-------"))
	require.NoError(t, m.Close(context.Background()))
	info, err := os.Stat(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
