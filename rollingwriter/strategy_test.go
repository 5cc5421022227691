package rollingwriter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, dir string, opts ...Option) *RollingFileManager {
	t.Helper()
	base := []Option{
		WithFileName(filepath.Join(dir, "app.log")),
		WithFilePattern(filepath.Join(dir, "app-%i.log")),
		WithStatusLogger(zap.NewNop()),
	}
	m, err := NewManager(append(base, opts...)...)
	require.NoError(t, err)
	return m
}

func writeAndRoll(t *testing.T, m *RollingFileManager, contents ...string) {
	t.Helper()
	for _, c := range contents {
		_, err := m.Write([]byte(c))
		require.NoError(t, err)
		require.NoError(t, m.Rollover())
	}
}

func TestRolloverRetainsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithRollingVolumeSize("500"), WithIndexedStrategy(1, 5, IndexMax))
	for i := 0; i < 10000; i++ {
		_, err := m.Write([]byte(fmt.Sprintf("message %020d\n", i)))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-1.log", "app-2.log", "app-3.log", "app-4.log", "app-5.log", "app.log"}, listDir(t, dir))
	current := readLines(t, filepath.Join(dir, "app.log"))
	assert.Equal(t, fmt.Sprintf("message %020d", 9999), current[len(current)-1])
	// 序号越大越新
	prev := ""
	for i := 1; i <= 5; i++ {
		lines := readLines(t, filepath.Join(dir, fmt.Sprintf("app-%d.log", i)))
		require.NotEmpty(t, lines)
		assert.True(t, lines[0] > prev)
		prev = lines[len(lines)-1]
	}
	assert.True(t, current[0] > prev)
}

func TestRolloverKeepsAllData(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithRollingVolumeSize("1KB"), WithIndexedStrategy(1, 0, IndexNoMax))
	const n = 2000
	for i := 0; i < n; i++ {
		_, err := m.Write([]byte(fmt.Sprintf("message %020d\n", i)))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close(context.Background()))

	seen := map[string]bool{}
	for _, name := range listDir(t, dir) {
		for _, line := range readLines(t, filepath.Join(dir, name)) {
			assert.False(t, seen[line], line)
			seen[line] = true
		}
	}
	assert.Len(t, seen, n)
}

func TestFileIndexMax(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithIndexedStrategy(1, 3, IndexMax))
	writeAndRoll(t, m, "1\n", "2\n", "3\n", "4\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-1.log", "app-2.log", "app-3.log", "app.log"}, listDir(t, dir))
	assert.Equal(t, "2\n", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, "3\n", readFile(t, filepath.Join(dir, "app-2.log")))
	assert.Equal(t, "4\n", readFile(t, filepath.Join(dir, "app-3.log")))
}

// 序号在重命名之前已经移动，重试时不会覆盖已有的历史文件
func TestFileIndexMaxRetryAfterFailedRename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app-1.log"), "1\n")
	writeFile(t, filepath.Join(dir, "app-2.log"), "2\n")
	writeFile(t, filepath.Join(dir, "app.log"), "3\n")
	strategy := newFailOnceStrategy(t, DefaultStrategyOptions{Min: 1, Max: 2, FileIndex: IndexMax})
	m := newTestManager(t, dir, WithRolloverStrategy(strategy))

	assert.ErrorIs(t, m.Rollover(), errRenameFailed)
	assert.Equal(t, []string{"app-1.log", "app.log"}, listDir(t, dir))
	assert.Equal(t, "2\n", readFile(t, filepath.Join(dir, "app-1.log")))

	require.NoError(t, m.Rollover())
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, []string{"app-1.log", "app-2.log", "app.log"}, listDir(t, dir))
	assert.Equal(t, "2\n", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, "3\n", readFile(t, filepath.Join(dir, "app-2.log")))
	assert.Equal(t, "", readFile(t, filepath.Join(dir, "app.log")))
}

func TestFileIndexMin(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithIndexedStrategy(1, 3, IndexMin))
	writeAndRoll(t, m, "1\n", "2\n", "3\n", "4\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-1.log", "app-2.log", "app-3.log", "app.log"}, listDir(t, dir))
	assert.Equal(t, "4\n", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, "3\n", readFile(t, filepath.Join(dir, "app-2.log")))
	assert.Equal(t, "2\n", readFile(t, filepath.Join(dir, "app-3.log")))
}

func TestFileIndexNoMax(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithIndexedStrategy(1, 2, IndexNoMax))
	writeAndRoll(t, m, "1\n", "2\n", "3\n", "4\n", "5\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-1.log", "app-2.log", "app-3.log", "app-4.log", "app-5.log", "app.log"}, listDir(t, dir))
	assert.Equal(t, "5\n", readFile(t, filepath.Join(dir, "app-5.log")))
}

func TestFileIndexMinOffset(t *testing.T) {
	dir := t.TempDir()
	// 小于min的文件不参与
	writeFile(t, filepath.Join(dir, "app-1.log"), "stale\n")
	m := newTestManager(t, dir, WithIndexedStrategy(3, 4, IndexMax))
	writeAndRoll(t, m, "a\n", "b\n", "c\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-1.log", "app-3.log", "app-4.log", "app.log"}, listDir(t, dir))
	assert.Equal(t, "stale\n", readFile(t, filepath.Join(dir, "app-1.log")))
	assert.Equal(t, "b\n", readFile(t, filepath.Join(dir, "app-3.log")))
	assert.Equal(t, "c\n", readFile(t, filepath.Join(dir, "app-4.log")))
}

func TestDefaultStrategyOptions(t *testing.T) {
	s, err := NewDefaultRolloverStrategy(DefaultStrategyOptions{Min: 0, Max: 0})
	require.NoError(t, err)
	assert.Equal(t, "DefaultRolloverStrategy(min=1, max=7, fileIndex=max)", s.String())

	s, err = NewDefaultRolloverStrategy(DefaultStrategyOptions{Min: 5, Max: 2, FileIndex: IndexMin})
	require.NoError(t, err)
	assert.Equal(t, "DefaultRolloverStrategy(min=5, max=5, fileIndex=min)", s.String())

	_, err = NewDefaultRolloverStrategy(DefaultStrategyOptions{FileIndex: "middle"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDefaultStrategyDescription(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	s, err := NewDefaultRolloverStrategy(DefaultStrategyOptions{})
	require.NoError(t, err)

	pp := newPattern(t, filepath.Join(dir, "app-%i.log.gz"), time.UTC)
	desc, err := s.Rollover(&RolloverState{FileName: name, Processor: pp, Now: time.Now(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, name, desc.ActiveFileName)
	assert.False(t, desc.Append)
	rename, ok := desc.Synchronous.(*FileRenameAction)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "app-1.log"), rename.Destination())
	compress, ok := desc.Asynchronous.(*CompressAction)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "app-1.log"), compress.Source())
	assert.Equal(t, filepath.Join(dir, "app-1.log.gz"), compress.Destination())

	// 重命名为自己时不滚动
	same := newPattern(t, name, time.UTC)
	desc, err = s.Rollover(&RolloverState{FileName: name, Processor: same, Now: time.Now(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Nil(t, desc.Synchronous)
	assert.Nil(t, desc.Asynchronous)
	assert.True(t, desc.Append)

	_, err = s.Rollover(&RolloverState{Processor: pp, Now: time.Now(), Logger: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCompressedRollover(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, WithFilePattern(filepath.Join(dir, "app-%i.log.gz")), WithIndexedStrategy(1, 2, IndexMax))
	writeAndRoll(t, m, "1\n", "2\n", "3\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-1.log.gz", "app-2.log.gz", "app.log"}, listDir(t, dir))
	assert.Equal(t, "2\n", readGzip(t, filepath.Join(dir, "app-1.log.gz")))
	assert.Equal(t, "3\n", readGzip(t, filepath.Join(dir, "app-2.log.gz")))
}

func TestDirectWriteStartsAfterExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app-1.log"), "one\n")
	writeFile(t, filepath.Join(dir, "app-2.log.gz"), "")

	m := newTestManager(t, dir, WithDirectWrite(0), WithFilePattern(filepath.Join(dir, "app-%i.log")))
	assert.Equal(t, filepath.Join(dir, "app-3.log"), m.FileName())
	writeAndRoll(t, m, "three\n")
	assert.Equal(t, filepath.Join(dir, "app-4.log"), m.FileName())
	_, err := m.Write([]byte("four\n"))
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, "three\n", readFile(t, filepath.Join(dir, "app-3.log")))
	assert.Equal(t, "four\n", readFile(t, filepath.Join(dir, "app-4.log")))
}

func TestDirectWriteMaxFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app-1.log"), "one\n")
	writeFile(t, filepath.Join(dir, "app-2.log"), "two\n")

	m := newTestManager(t, dir, WithDirectWrite(2), WithFilePattern(filepath.Join(dir, "app-%i.log.gz")))
	assert.Equal(t, filepath.Join(dir, "app-3.log"), m.FileName())
	writeAndRoll(t, m, "three\n")
	require.NoError(t, m.Close(context.Background()))

	assert.Equal(t, []string{"app-3.log.gz", "app-4.log"}, listDir(t, dir))
	assert.Equal(t, "three\n", readGzip(t, filepath.Join(dir, "app-3.log.gz")))
}

func TestDirectWriteRequiresNoFileName(t *testing.T) {
	dir := t.TempDir()
	_, err := NewManager(
		WithFileName(""),
		WithFilePattern(filepath.Join(dir, "app-%i.log")),
		WithStatusLogger(zap.NewNop()),
	)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStrategyRegistry(t *testing.T) {
	s, err := NewStrategy(StrategyConfig{Type: "direct", MaxFiles: 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.(*DirectWriteRolloverStrategy).String(), "DirectWriteRolloverStrategy(maxFiles=3"))

	s, err = NewStrategy(StrategyConfig{})
	require.NoError(t, err)
	assert.IsType(t, &DefaultRolloverStrategy{}, s)

	_, err = NewStrategy(StrategyConfig{Type: "unknown"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
