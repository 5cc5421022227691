package rollingwriter

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// 压缩格式，由文件名后缀决定
type FileExtension struct {
	Suffix    string
	newWriter func(w io.Writer, level int, info fs.FileInfo) (io.WriteCloser, error)
}

var fileExtensions = []*FileExtension{
	{Suffix: ".gz", newWriter: newGzipWriter},
	{Suffix: ".zip", newWriter: newZipWriter},
	{Suffix: ".bz2", newWriter: newBzip2Writer},
	{Suffix: ".zst", newWriter: newZstdWriter},
}

func lookupExtension(name string) *FileExtension {
	lower := strings.ToLower(name)
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext.Suffix) {
			return ext
		}
	}
	return nil
}

// 匹配任意压缩后缀的可选分组
func extensionGroup() string {
	alts := make([]string, 0, len(fileExtensions))
	for _, ext := range fileExtensions {
		alts = append(alts, strings.ReplaceAll(ext.Suffix, ".", `\.`))
	}
	return "(" + strings.Join(alts, "|") + ")?"
}

func (e *FileExtension) NewCompressAction(source, destination string, deleteSource bool, level int) *CompressAction {
	return &CompressAction{ext: e, source: source, destination: destination, deleteSource: deleteSource, level: level}
}

func newGzipWriter(w io.Writer, level int, info fs.FileInfo) (io.WriteCloser, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, err
	}
	zw.Name = info.Name()
	zw.ModTime = info.ModTime()
	return zw, nil
}

type zipEntryWriter struct {
	io.Writer
	zw *zip.Writer
}

func (z *zipEntryWriter) Close() error { return z.zw.Close() }

func newZipWriter(w io.Writer, level int, info fs.FileInfo) (io.WriteCloser, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return nil, err
	}
	header.Method = zip.Deflate
	entry, err := zw.CreateHeader(header)
	if err != nil {
		return nil, err
	}
	return &zipEntryWriter{Writer: entry, zw: zw}, nil
}

func newBzip2Writer(w io.Writer, level int, _ fs.FileInfo) (io.WriteCloser, error) {
	if level < bzip2.BestSpeed || level > bzip2.BestCompression {
		level = bzip2.DefaultCompression
	}
	return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
}

func newZstdWriter(w io.Writer, level int, _ fs.FileInfo) (io.WriteCloser, error) {
	if level > 0 {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	return zstd.NewWriter(w)
}

// 压缩历史文件，失败时删除不完整的目标文件并保留源文件
type CompressAction struct {
	actionState
	ext          *FileExtension
	source       string
	destination  string
	deleteSource bool
	level        int
}

func (a *CompressAction) Source() string { return a.source }
func (a *CompressAction) Destination() string { return a.destination }

func (a *CompressAction) Execute(ctx context.Context) (bool, error) {
	defer a.complete.Store(true)
	in, err := os.Open(a.source)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &ActionError{Op: "compress", Path: a.source, Err: err}
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return false, &ActionError{Op: "compress", Path: a.source, Err: err}
	}
	if err := a.compress(ctx, in, info); err != nil {
		os.Remove(a.destination)
		return false, &ActionError{Op: "compress", Path: a.source, Err: err}
	}
	_ = os.Chtimes(a.destination, info.ModTime(), info.ModTime())
	if a.deleteSource {
		in.Close()
		if err := os.Remove(a.source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return true, &ActionError{Op: "delete", Path: a.source, Err: err}
		}
	}
	return true, nil
}

func (a *CompressAction) compress(ctx context.Context, in *os.File, info fs.FileInfo) error {
	out, err := os.OpenFile(a.destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(out, 64<<10)
	cw, err := a.ext.newWriter(bw, a.level, info)
	if err != nil {
		out.Close()
		return err
	}
	_, err = io.Copy(cw, &interruptReader{ctx: ctx, r: in, state: &a.actionState})
	for _, step := range []func() error{cw.Close, bw.Flush, out.Sync, out.Close} {
		if serr := step(); err == nil {
			err = serr
		}
	}
	return err
}

func (a *CompressAction) String() string {
	return fmt.Sprintf("CompressAction[%s to %s, deleteSource=%t]", a.source, a.destination, a.deleteSource)
}

// 读取时检查是否被取消
type interruptReader struct {
	ctx   context.Context
	r     io.Reader
	state *actionState
}

func (r *interruptReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.state.isInterrupted() {
		return 0, context.Canceled
	}
	return r.r.Read(p)
}

// 不看后缀时按名称取压缩格式
func compressActionFor(source, destination string, level int) Action {
	ext := lookupExtension(destination)
	if ext == nil {
		return nil
	}
	return ext.NewCompressAction(source, destination, true, level)
}
