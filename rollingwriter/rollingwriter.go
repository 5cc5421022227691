package rollingwriter

import (
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// 三种写入模式
const (
	LockMode   = "lock"
	AsyncMode  = "async"
	BufferMode = "buffer"
)

// 一些默认的全局变量
var (
	BufferSize      = 0x2000
	QueueSize       = 1024
	DefaultFileMode = os.FileMode(0644)
	DefaultDirMode  = os.FileMode(0755)
	DefaultFileFlag = os.O_WRONLY | os.O_CREATE | os.O_APPEND

	// 自定义错误
	ErrInternal        = errors.New("error internal")
	ErrClosed          = errors.New("error write on close")
	ErrInvalidArgument = errors.New("error argument invalid")
	ErrShutdownTimeout = errors.New("error shutdown timeout")
	ErrRolloverFailed  = errors.New("error rollover failed")
)

type RollingWriter interface {
	io.Writer
	Close() error
	// Sync 把缓冲区写入文件，zap 的 WriteSyncer 会调用
	Sync() error
	Manager() *RollingFileManager
}

type Config struct {
	FileName        string `json:"file_name" yaml:"fileName"`               // 当前写入的文件，直写模式下为空
	FilePattern     string `json:"file_pattern" yaml:"filePattern"`         // 历史文件名模板，如 logs/app-%d{yyyy-MM-dd}-%i.log.gz
	Append          bool   `json:"append" yaml:"append"`                    // 启动时追加已有文件
	BufferedIO      bool   `json:"buffered_io" yaml:"bufferedIO"`           // 是否使用bufio
	BufferSize      int    `json:"buffer_size" yaml:"bufferSize"`           // bufio的大小
	ImmediateFlush  bool   `json:"immediate_flush" yaml:"immediateFlush"`   // 每次写入后flush
	CreateOnDemand  bool   `json:"create_on_demand" yaml:"createOnDemand"`  // 第一次写入时才创建文件
	FilePermissions string `json:"file_permissions" yaml:"filePermissions"` // rw-r--r-- 或 0644
	Locale          string `json:"locale" yaml:"locale"`                    // 决定一周的第一天，如 en_US、de_DE
	TimeZone        string `json:"time_zone" yaml:"timeZone"`               // 模板没有指定时区时使用

	Policy   PolicyConfig   `json:"policy" yaml:"policy"`     // 触发策略
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"` // 滚动策略
	Delete   []DeleteConfig `json:"delete" yaml:"delete"`     // 历史文件清理
	Upload   *UploadConfig  `json:"upload" yaml:"upload"`     // 历史文件上传

	WriterMode            string `json:"writer_mode" yaml:"writerMode"`                 // lock, async, buffer
	BufferWriterThreshold int    `json:"buffer_threshold" yaml:"bufferWriterThreshold"` // buffer模式下攒够多少字节写一次
	ShutdownTimeout       string `json:"shutdown_timeout" yaml:"shutdownTimeout"`       // 关闭时等待异步动作的时间
	FileCheckInterval     string `json:"file_check_interval" yaml:"fileCheckInterval"`  // 检查文件是否被删除的间隔，0为每次写入都检查，负数关闭
	WatchFile             bool   `json:"watch_file" yaml:"watchFile"`                   // 使用fsnotify监听当前文件

	Properties map[string]string `json:"properties" yaml:"properties"` // ${name} 替换用的变量

	// 以下只能通过代码设置
	TriggeringPolicy TriggeringPolicy   `json:"-" yaml:"-"`
	RolloverStrategy RolloverStrategy   `json:"-" yaml:"-"`
	Listeners        []RolloverListener `json:"-" yaml:"-"`
	StatusLogger     *zap.Logger        `json:"-" yaml:"-"`
	Clock            func() time.Time   `json:"-" yaml:"-"`
	Substitutor      Substitutor        `json:"-" yaml:"-"`
	Header           func() []byte      `json:"-" yaml:"-"`
	Footer           func() []byte      `json:"-" yaml:"-"`
	Store            ObjectStore        `json:"-" yaml:"-"`
}

type PolicyConfig struct {
	SizeBased string           `json:"size_based" yaml:"sizeBased"` // 如 10MB
	TimeBased *TimeBasedConfig `json:"time_based" yaml:"timeBased"`
	Cron      *CronConfig      `json:"cron" yaml:"cron"`
	OnStartup *OnStartupConfig `json:"on_startup" yaml:"onStartup"`
	Custom    []PluginConfig   `json:"custom" yaml:"custom"` // 通过RegisterPolicy注册的策略
}

type TimeBasedConfig struct {
	Interval       int    `json:"interval" yaml:"interval"`
	Modulate       bool   `json:"modulate" yaml:"modulate"`
	MaxRandomDelay string `json:"max_random_delay" yaml:"maxRandomDelay"`
}

type CronConfig struct {
	Schedule          string `json:"schedule" yaml:"schedule"`
	EvaluateOnStartup bool   `json:"evaluate_on_startup" yaml:"evaluateOnStartup"`
}

type OnStartupConfig struct {
	MinSize string `json:"min_size" yaml:"minSize"`
	MinAge  string `json:"min_age" yaml:"minAge"`
}

type PluginConfig struct {
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params" yaml:"params"`
}

type StrategyConfig struct {
	Type                     string            `json:"type" yaml:"type"` // default, direct 或注册的名称
	Min                      int               `json:"min" yaml:"min"`
	Max                      int               `json:"max" yaml:"max"`
	FileIndex                string            `json:"file_index" yaml:"fileIndex"` // max, min, nomax
	MaxFiles                 int               `json:"max_files" yaml:"maxFiles"`   // 直写模式下保留的文件数
	CompressionLevel         int               `json:"compression_level" yaml:"compressionLevel"`
	StopCustomActionsOnError bool              `json:"stop_custom_actions_on_error" yaml:"stopCustomActionsOnError"`
	Params                   map[string]string `json:"params" yaml:"params"`
}

type DeleteConfig struct {
	BasePath         string `json:"base_path" yaml:"basePath"`
	MaxDepth         int    `json:"max_depth" yaml:"maxDepth"`
	FollowLinks      bool   `json:"follow_links" yaml:"followLinks"`
	TestMode         bool   `json:"test_mode" yaml:"testMode"`
	Glob             string `json:"glob" yaml:"glob"`
	Regex            string `json:"regex" yaml:"regex"`
	Age              string `json:"age" yaml:"age"`
	AccumulatedSize  string `json:"accumulated_size" yaml:"accumulatedSize"`
	AccumulatedCount int    `json:"accumulated_count" yaml:"accumulatedCount"`
	Any              bool   `json:"any" yaml:"any"` // 条件之间为或的关系
}

type UploadConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	CredentialsFile string `json:"credentials_file" yaml:"credentialsFile"`
	DeleteAfter     bool   `json:"delete_after" yaml:"deleteAfter"`
}

// 默认配置
func NewDefaultConfig() Config {
	return Config{
		FileName:              "./log/app.log",
		FilePattern:           "./log/app-%d{yyyy-MM-dd}-%i.log.gz",
		Append:                true,
		BufferedIO:            true,
		BufferSize:            BufferSize,
		ImmediateFlush:        true,
		Policy:                PolicyConfig{SizeBased: "1GB"},
		Strategy:              StrategyConfig{Type: "default", Min: 1, Max: 7, FileIndex: "max", CompressionLevel: -1},
		WriterMode:            LockMode,
		BufferWriterThreshold: 64,
		ShutdownTimeout:       "30s",
		FileCheckInterval:     "0s",
	}
}

// 配置构造函数，用于更新配置
type Option func(*Config)

// 更新日志文件名称
func WithFileName(name string) Option {
	return func(c *Config) {
		c.FileName = name
	}
}

// 更新历史文件模板
func WithFilePattern(pattern string) Option {
	return func(c *Config) {
		c.FilePattern = pattern
	}
}

// 启动时是否追加
func WithAppend(append bool) Option {
	return func(c *Config) {
		c.Append = append
	}
}

func WithBufferedIO(buffered bool, size int) Option {
	return func(c *Config) {
		c.BufferedIO = buffered
		if size > 0 {
			c.BufferSize = size
		}
	}
}

func WithImmediateFlush(flush bool) Option {
	return func(c *Config) {
		c.ImmediateFlush = flush
	}
}

func WithCreateOnDemand() Option {
	return func(c *Config) {
		c.CreateOnDemand = true
	}
}

func WithFilePermissions(perm string) Option {
	return func(c *Config) {
		c.FilePermissions = perm
	}
}

func WithLocale(locale string) Option {
	return func(c *Config) {
		c.Locale = locale
	}
}

func WithTimeZone(zone string) Option {
	return func(c *Config) {
		c.TimeZone = zone
	}
}

// 改为async模式
func WithAsynchronous() Option {
	return func(c *Config) {
		c.WriterMode = AsyncMode
	}
}

// 改为lock模式
func WithLock() Option {
	return func(c *Config) {
		c.WriterMode = LockMode
	}
}

// 改为buffer模式
func WithBuffer() Option {
	return func(c *Config) {
		c.WriterMode = BufferMode
	}
}

// 修改buffer模式下的缓存大小
func WithBufferThreshold(n int) Option {
	return func(c *Config) {
		c.BufferWriterThreshold = n
	}
}

// 更新历史文件保存数
func WithMaxRemain(max int) Option {
	return func(c *Config) {
		c.Strategy.Max = max
		c.Strategy.MaxFiles = max
	}
}

// 按大小滚动，size 如 100MB
func WithRollingVolumeSize(size string) Option {
	return func(c *Config) {
		c.Policy.SizeBased = size
	}
}

// 按cron表达式滚动，同时去掉默认的大小策略
// 需要大小和cron组合时在之后再调用WithRollingVolumeSize
func WithRollingTimePattern(pattern string) Option {
	return func(c *Config) {
		c.Policy.SizeBased = ""
		c.Policy.Cron = &CronConfig{Schedule: pattern}
	}
}

// 按模板中日期的最小单位滚动
func WithTimeInterval(interval int, modulate bool) Option {
	return func(c *Config) {
		if c.Policy.TimeBased == nil {
			c.Policy.TimeBased = &TimeBasedConfig{}
		}
		c.Policy.TimeBased.Interval = interval
		c.Policy.TimeBased.Modulate = modulate
	}
}

func WithMaxRandomDelay(d time.Duration) Option {
	return func(c *Config) {
		if c.Policy.TimeBased == nil {
			c.Policy.TimeBased = &TimeBasedConfig{Interval: 1}
		}
		c.Policy.TimeBased.MaxRandomDelay = d.String()
	}
}

// 启动时滚动已有的文件
func WithOnStartup(minSize string) Option {
	return func(c *Config) {
		c.Policy.OnStartup = &OnStartupConfig{MinSize: minSize}
	}
}

// 序号策略，fileIndex 为 max、min 或 nomax
func WithIndexedStrategy(min, max int, fileIndex string) Option {
	return func(c *Config) {
		c.Strategy.Type = "default"
		c.Strategy.Min = min
		c.Strategy.Max = max
		c.Strategy.FileIndex = fileIndex
	}
}

// 直写策略，FileName 需为空
func WithDirectWrite(maxFiles int) Option {
	return func(c *Config) {
		c.FileName = ""
		c.Strategy.Type = "direct"
		c.Strategy.MaxFiles = maxFiles
	}
}

func WithCompressionLevel(level int) Option {
	return func(c *Config) {
		c.Strategy.CompressionLevel = level
	}
}

func WithDelete(d DeleteConfig) Option {
	return func(c *Config) {
		c.Delete = append(c.Delete, d)
	}
}

func WithUpload(store ObjectStore, deleteAfter bool) Option {
	return func(c *Config) {
		c.Store = store
		c.Upload = &UploadConfig{DeleteAfter: deleteAfter}
	}
}

func WithTriggeringPolicy(p TriggeringPolicy) Option {
	return func(c *Config) {
		c.TriggeringPolicy = p
	}
}

func WithRolloverStrategy(s RolloverStrategy) Option {
	return func(c *Config) {
		c.RolloverStrategy = s
	}
}

func WithListener(l RolloverListener) Option {
	return func(c *Config) {
		c.Listeners = append(c.Listeners, l)
	}
}

func WithStatusLogger(l *zap.Logger) Option {
	return func(c *Config) {
		c.StatusLogger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Clock = now
	}
}

func WithSubstitutor(s Substitutor) Option {
	return func(c *Config) {
		c.Substitutor = s
	}
}

func WithProperty(key, value string) Option {
	return func(c *Config) {
		if c.Properties == nil {
			c.Properties = make(map[string]string)
		}
		c.Properties[key] = value
	}
}

// 每个新文件的开头和关闭前的结尾
func WithHeader(f func() []byte) Option {
	return func(c *Config) {
		c.Header = f
	}
}

func WithFooter(f func() []byte) Option {
	return func(c *Config) {
		c.Footer = f
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = d.String()
	}
}

func WithFileCheckInterval(d time.Duration) Option {
	return func(c *Config) {
		c.FileCheckInterval = d.String()
	}
}

func WithWatchFile() Option {
	return func(c *Config) {
		c.WatchFile = true
	}
}
