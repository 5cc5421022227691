package rollingwriter

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(name)
	require.NoError(t, err)
	return string(b)
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
}

// 目录下的文件名，已排序
func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func readLines(t *testing.T, name string) []string {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, sc.Err())
	return lines
}

// 一个只返回固定描述的滚动策略
type stubStrategy struct {
	rollover func(st *RolloverState) (*RolloverDescription, error)
}

func (s *stubStrategy) Rollover(st *RolloverState) (*RolloverDescription, error) {
	return s.rollover(st)
}

// 第一次滚动的同步动作失败，文件不移动，之后交给内部策略
type failOnceStrategy struct {
	inner  RolloverStrategy
	failed bool
}

var errRenameFailed = errors.New("rename failed")

func (s *failOnceStrategy) Rollover(st *RolloverState) (*RolloverDescription, error) {
	desc, err := s.inner.Rollover(st)
	if err != nil || desc == nil || s.failed {
		return desc, err
	}
	s.failed = true
	desc.Synchronous = ActionFunc(func(context.Context) (bool, error) { return false, errRenameFailed })
	desc.Asynchronous = nil
	return desc, nil
}

func newFailOnceStrategy(t *testing.T, opts DefaultStrategyOptions) *failOnceStrategy {
	t.Helper()
	inner, err := NewDefaultRolloverStrategy(opts)
	require.NoError(t, err)
	return &failOnceStrategy{inner: inner}
}

type countingPolicy struct {
	mu      sync.Mutex
	calls   int
	result  bool
	initErr error
}

func (p *countingPolicy) Initialize(*RollingFileManager) error { return p.initErr }

func (p *countingPolicy) IsTriggeringEvent(FileState, int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result
}
