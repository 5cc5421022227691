package rollingwriter

import (
	"context"
	"sync"
	"sync/atomic"
)

// 当WriterMode为lock时使用的结构，由管理器的锁保证并发安全
type Writer struct {
	m *RollingFileManager
}

// 当WriterMode为async时使用的结构，写入先进入队列，由后台协程落盘
type AsynchronousWriter struct {
	Writer
	queue   chan []byte // 缓存队列chan
	errChan chan error  // 数据写入错误chan
	closed  int32       // 默认为：0，当关闭时为：1
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// 当WriterMode为buffer时使用的结构，攒够threshold字节后一次写入
type BufferWriter struct {
	Writer
	mu        sync.Mutex
	buf       []byte
	threshold int
	closed    bool
}

// 异步写入时使用的临时缓存对象
var _asyncBufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 512)
	},
}

// 根据配置生成RollingWriter，用于接收日志输入
func NewWriterFromConfig(c *Config) (RollingWriter, error) {
	m, err := NewManagerFromConfig(c)
	if err != nil {
		return nil, err
	}
	writer := Writer{m: m}
	// 判断日志写入模式
	switch c.WriterMode {
	case "", LockMode:
		return &writer, nil
	case AsyncMode:
		wr := &AsynchronousWriter{
			Writer:  writer,
			queue:   make(chan []byte, QueueSize),
			errChan: make(chan error, 1),
		}
		wr.wg.Add(1)
		go wr.writer()
		return wr, nil
	case BufferMode:
		threshold := c.BufferWriterThreshold
		if threshold <= 0 {
			threshold = 64
		}
		return &BufferWriter{Writer: writer, buf: make([]byte, 0, threshold*2), threshold: threshold}, nil
	}
	m.Close(context.Background())
	return nil, ErrInvalidArgument
}

// 执行各个构造函数更新配置后生产RollingWriter
func NewWriter(ops ...Option) (RollingWriter, error) {
	cfg := NewDefaultConfig()
	for _, opt := range ops {
		opt(&cfg)
	}
	return NewWriterFromConfig(&cfg)
}

// 从配置文件读取配置,解析后生成RollingWriter,支持json和yaml类型
func NewWriterFromConfigFile(path string, typ string) (RollingWriter, error) {
	cfg, err := LoadConfigFile(path, typ)
	if err != nil {
		return nil, err
	}
	return NewWriterFromConfig(cfg)
}

func (w *Writer) Write(b []byte) (int, error) {
	return w.m.Write(b)
}

func (w *Writer) Sync() error {
	return w.m.Flush()
}

func (w *Writer) Close() error {
	return w.m.Close(context.Background())
}

func (w *Writer) Manager() *RollingFileManager {
	return w.m
}

// 异步的Write接口实现，返回上一次落盘的错误
func (w *AsynchronousWriter) Write(b []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if atomic.LoadInt32(&w.closed) == 1 {
		return 0, ErrClosed
	}
	select {
	case err := <-w.errChan:
		return 0, err
	default:
	}
	buf := append(_asyncBufferPool.Get().([]byte)[:0], b...)
	w.queue <- buf
	return len(b), nil
}

// 后台落盘
func (w *AsynchronousWriter) writer() {
	defer w.wg.Done()
	for b := range w.queue {
		if _, err := w.m.Write(b); err != nil {
			select {
			case w.errChan <- err:
			default:
			}
		}
		_asyncBufferPool.Put(b[:0])
	}
}

// 队列中的数据全部写完后关闭
func (w *AsynchronousWriter) Close() error {
	w.mu.Lock()
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		w.mu.Unlock()
		return ErrClosed
	}
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
	return w.m.Close(context.Background())
}

func (w *BufferWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, b...)
	if len(w.buf) > w.threshold {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func (w *BufferWriter) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.m.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}

func (w *BufferWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.m.Flush()
}

func (w *BufferWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	err := w.flushLocked()
	w.mu.Unlock()
	if cerr := w.m.Close(context.Background()); err == nil {
		err = cerr
	}
	return err
}
