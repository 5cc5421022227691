package rollingwriter

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestWriterModes(t *testing.T) {
	modes := map[string]Option{
		LockMode:   WithLock(),
		AsyncMode:  WithAsynchronous(),
		BufferMode: WithBuffer(),
	}
	for mode, opt := range modes {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			name := filepath.Join(dir, "app.log")
			w, err := NewWriter(
				WithFileName(name),
				WithFilePattern(filepath.Join(dir, "app-%i.log")),
				WithStatusLogger(zap.NewNop()),
				WithBufferThreshold(16),
				opt,
			)
			require.NoError(t, err)
			assert.Equal(t, name, w.Manager().FileName())
			for i := 0; i < 100; i++ {
				n, err := fmt.Fprintf(w, "line %03d\n", i)
				require.NoError(t, err)
				assert.Equal(t, 9, n)
			}
			require.NoError(t, w.Sync())
			require.NoError(t, w.Close())

			lines := readLines(t, name)
			require.Len(t, lines, 100)
			assert.Equal(t, "line 000", lines[0])
			assert.Equal(t, "line 099", lines[99])
			_, err = w.Write([]byte("late\n"))
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestWriterInvalidMode(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.FileName = filepath.Join(dir, "app.log")
	cfg.FilePattern = filepath.Join(dir, "app-%i.log")
	cfg.WriterMode = "none"
	cfg.StatusLogger = zap.NewNop()
	_, err := NewWriterFromConfig(&cfg)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWriterRollsWithZap(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(
		WithFileName(filepath.Join(dir, "app.log")),
		WithFilePattern(filepath.Join(dir, "app-%i.log.gz")),
		WithRollingVolumeSize("1KB"),
		WithMaxRemain(3),
		WithStatusLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), w, zap.InfoLevel)
	log := zap.New(core)
	for i := 0; i < 200; i++ {
		log.Info("rolling", zap.Int("i", i))
	}
	require.NoError(t, log.Sync())
	require.NoError(t, w.Close())

	assert.Equal(t, []string{"app-1.log.gz", "app-2.log.gz", "app-3.log.gz", "app.log"}, listDir(t, dir))
}
