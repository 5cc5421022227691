package rollingwriter

import (
	"archive/zip"
	stdbzip2 "compress/bzip2"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readGzip(t *testing.T, name string) string {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(b)
}

func readZip(t *testing.T, name string) (string, string) {
	t.Helper()
	zr, err := zip.OpenReader(name)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return zr.File[0].Name, string(b)
}

func readBzip2(t *testing.T, name string) string {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(stdbzip2.NewReader(f))
	require.NoError(t, err)
	return string(b)
}

func readZstd(t *testing.T, name string) string {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	b, err := io.ReadAll(dec)
	require.NoError(t, err)
	return string(b)
}

func TestCompressAction(t *testing.T) {
	content := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200)
	tests := []struct {
		suffix string
		level  int
		read   func(t *testing.T, name string) string
	}{
		{".gz", -1, readGzip},
		{".gz", 9, readGzip},
		{".zip", -1, func(t *testing.T, name string) string {
			entry, b := readZip(t, name)
			assert.Equal(t, "app-1.log", entry)
			return b
		}},
		{".bz2", -1, readBzip2},
		{".bz2", 1, readBzip2},
		{".zst", -1, readZstd},
		{".zst", 19, readZstd},
	}
	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "app-1.log")
			dst := src + tt.suffix
			writeFile(t, src, content)

			ext := lookupExtension(dst)
			require.NotNil(t, ext)
			a := ext.NewCompressAction(src, dst, true, tt.level)
			ok, err := a.Execute(context.Background())
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, a.IsComplete())
			assert.NoFileExists(t, src)
			assert.Equal(t, content, tt.read(t, dst))
		})
	}
}

func TestCompressActionKeepsSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.log")
	writeFile(t, src, "data\n")
	a := lookupExtension(".gz").NewCompressAction(src, src+".gz", false, -1)
	ok, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, src)
	assert.Equal(t, "data\n", readGzip(t, src+".gz"))
}

func TestCompressActionMissingSource(t *testing.T) {
	dir := t.TempDir()
	a := lookupExtension(".gz").NewCompressAction(filepath.Join(dir, "none.log"), filepath.Join(dir, "none.log.gz"), true, -1)
	ok, err := a.Execute(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCompressActionFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.log")
	writeFile(t, src, "data\n")

	// 目标目录不存在
	a := lookupExtension(".gz").NewCompressAction(src, filepath.Join(dir, "missing", "app.log.gz"), true, -1)
	ok, err := a.Execute(context.Background())
	assert.False(t, ok)
	var actionErr *ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "compress", actionErr.Op)
	assert.FileExists(t, src)

	// 中断后删除不完整的目标文件
	dst := src + ".zst"
	b := lookupExtension(dst).NewCompressAction(src, dst, true, -1)
	b.Close()
	ok, err = b.Execute(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
	assert.Equal(t, "data\n", readFile(t, src))
}

func TestLookupExtension(t *testing.T) {
	assert.Equal(t, ".gz", lookupExtension("a.log.GZ").Suffix)
	assert.Equal(t, ".zip", lookupExtension("a.zip").Suffix)
	assert.Equal(t, ".bz2", lookupExtension("a.bz2").Suffix)
	assert.Equal(t, ".zst", lookupExtension("a.zst").Suffix)
	assert.Nil(t, lookupExtension("a.log"))
	assert.Nil(t, compressActionFor("a.log", "b.log", -1))
}

func TestFileRenameAction(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.log")
	dst := filepath.Join(dir, "archive", "app-1.log")
	writeFile(t, src, "data\n")

	a := NewFileRenameAction(src, dst, false)
	ok, err := a.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, src)
	assert.Equal(t, "data\n", readFile(t, dst))

	// 源文件不存在视为成功
	ok, err = NewFileRenameAction(src, dst, false).Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// 空文件默认删除
	writeFile(t, src, "")
	empty := filepath.Join(dir, "empty.log")
	ok, err = NewFileRenameAction(src, empty, false).Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, src)
	assert.NoFileExists(t, empty)

	writeFile(t, src, "")
	ok, err = NewFileRenameAction(src, empty, true).Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, empty)
}

func TestCompositeAction(t *testing.T) {
	boom := errors.New("boom")
	var ran []string
	step := func(name string, ok bool, err error) Action {
		return ActionFunc(func(context.Context) (bool, error) {
			ran = append(ran, name)
			return ok, err
		})
	}

	a := NewCompositeAction(true, step("a", true, nil), step("b", false, boom), step("c", true, nil))
	ok, err := a.Execute(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.True(t, a.IsComplete())

	ran = nil
	a = NewCompositeAction(false, step("a", false, nil), step("b", true, boom), step("c", true, nil))
	ok, err = a.Execute(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b", "c"}, ran)

	ran = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewCompositeAction(false, step("a", true, nil)).Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ran)
}

func TestMergeActions(t *testing.T) {
	assert.Nil(t, mergeActions(false, nil, nil))
	single := NewFileDeleteAction("x")
	assert.Same(t, single, mergeActions(false, nil, single))
	assert.IsType(t, &CompositeAction{}, mergeActions(false, single, NewFileDeleteAction("y")))
}
