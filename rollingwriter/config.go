package rollingwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v2"
)

// 配置中的 ${name} 替换
type Substitutor interface {
	Replace(s string) string
}

type propertySubstitutor struct {
	props map[string]string
}

// 支持 ${name}、${env:NAME}、${name:-default}，$${ 输出 ${
// 先查props，再查环境变量，都没有且没有默认值时保持原样
func NewSubstitutor(props map[string]string) Substitutor {
	return &propertySubstitutor{props: props}
}

func (s *propertySubstitutor) Replace(in string) string {
	if !strings.Contains(in, "${") {
		return in
	}
	var b strings.Builder
	for i := 0; i < len(in); {
		if strings.HasPrefix(in[i:], "$${") {
			b.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(in[i:], "${") {
			b.WriteByte(in[i])
			i++
			continue
		}
		end := strings.IndexByte(in[i:], '}')
		if end < 0 {
			b.WriteString(in[i:])
			break
		}
		expr := in[i+2 : i+end]
		if v, ok := s.lookup(expr); ok {
			b.WriteString(v)
		} else {
			b.WriteString(in[i : i+end+1])
		}
		i += end + 1
	}
	return b.String()
}

func (s *propertySubstitutor) lookup(expr string) (string, bool) {
	key, def, hasDef := strings.Cut(expr, ":-")
	if name, ok := strings.CutPrefix(key, "env:"); ok {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
	} else {
		if v, ok := s.props[key]; ok {
			return v, true
		}
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	return def, hasDef
}

// 从配置文件读取配置，支持json和yaml，typ为空时根据后缀判断
func LoadConfigFile(path string, typ string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	buf, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	cfg := NewDefaultConfig()
	switch typ {
	case "json":
		err = json.Unmarshal(buf, &cfg)
	case "yaml", "yml":
		err = yaml.Unmarshal(buf, &cfg)
	default:
		return nil, fmt.Errorf("%w: config type %q", ErrInvalidArgument, typ)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// 执行各个构造函数更新配置后生成管理器
func NewManager(ops ...Option) (*RollingFileManager, error) {
	cfg := NewDefaultConfig()
	for _, opt := range ops {
		opt(&cfg)
	}
	return NewManagerFromConfig(&cfg)
}

// 根据配置生成管理器，打开当前文件并初始化触发策略
func NewManagerFromConfig(c *Config) (*RollingFileManager, error) {
	if c == nil {
		return nil, ErrInvalidArgument
	}
	log := orStatus(c.StatusLogger)
	sub := c.Substitutor
	if sub == nil {
		sub = NewSubstitutor(c.Properties)
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}

	pattern := sub.Replace(c.FilePattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: file pattern is required", ErrInvalidArgument)
	}
	loc := time.Local
	if c.TimeZone != "" {
		loc = loadZone(c.TimeZone, log)
	}
	pp, err := NewPatternProcessor(pattern, PatternOptions{Location: loc, Locale: c.Locale, Logger: log})
	if err != nil {
		return nil, err
	}

	policy := c.TriggeringPolicy
	if policy == nil {
		if policy, err = buildPolicy(&c.Policy); err != nil {
			return nil, err
		}
	}
	strategy := c.RolloverStrategy
	if strategy == nil {
		if strategy, err = NewStrategy(c.Strategy); err != nil {
			return nil, err
		}
	}
	custom, err := buildDeleteActions(c.Delete, sub, now, log)
	if err != nil {
		return nil, err
	}

	perm := DefaultFileMode
	if c.FilePermissions != "" {
		if perm, err = parseFilePermissions(c.FilePermissions); err != nil {
			return nil, err
		}
	}
	bufferSize := c.BufferSize
	if bufferSize <= 0 {
		bufferSize = BufferSize
	}
	shutdown, err := parseAgeOr(c.ShutdownTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	check, err := parseAgeOr(c.FileCheckInterval, 0)
	if err != nil {
		return nil, err
	}

	// 需要关闭的资源最后创建
	archive, closers, err := buildUpload(c)
	if err != nil {
		return nil, err
	}
	if len(custom) > 0 || len(archive) > 0 {
		ap, ok := strategy.(actionAppender)
		if !ok {
			closeResources(closers, log)
			return nil, fmt.Errorf("%w: strategy %T does not accept delete or upload actions", ErrInvalidArgument, strategy)
		}
		ap.appendActions(custom, archive)
	}

	m := &RollingFileManager{
		fileName:        sub.Replace(c.FileName),
		policy:          policy,
		strategy:        strategy,
		processor:       pp,
		status:          log,
		now:             now,
		appendMode:      c.Append,
		bufferedIO:      c.BufferedIO,
		bufferSize:      bufferSize,
		immediateFlush:  c.ImmediateFlush,
		createOnDemand:  c.CreateOnDemand,
		perm:            perm,
		header:          c.Header,
		footer:          c.Footer,
		checkInterval:   check,
		shutdownTimeout: shutdown,
		closers:         closers,
	}
	m.listeners.log = log
	for _, l := range c.Listeners {
		m.listeners.add(l)
	}
	if err := m.start(c.WatchFile); err != nil {
		return nil, err
	}
	return m, nil
}

// 大小策略排在时间策略之前，同时触发时历史文件仍使用上一周期的时间
func buildPolicy(pc *PolicyConfig) (TriggeringPolicy, error) {
	var policies []TriggeringPolicy
	if pc.SizeBased != "" {
		max, err := ParseFileSize(pc.SizeBased)
		if err != nil {
			return nil, err
		}
		p, err := NewSizeBasedTriggeringPolicy(max)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if tb := pc.TimeBased; tb != nil {
		delay, err := parseAgeOr(tb.MaxRandomDelay, 0)
		if err != nil {
			return nil, err
		}
		p, err := NewTimeBasedTriggeringPolicy(tb.Interval, tb.Modulate, delay)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if cc := pc.Cron; cc != nil {
		p, err := NewCronTriggeringPolicy(cc.Schedule, cc.EvaluateOnStartup)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	for _, pl := range pc.Custom {
		p, err := NewPolicy(pl.Name, pl.Params)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	if st := pc.OnStartup; st != nil {
		minSize := int64(1)
		if st.MinSize != "" {
			n, err := ParseFileSize(st.MinSize)
			if err != nil {
				return nil, err
			}
			minSize = n
		}
		minAge, err := parseAgeOr(st.MinAge, 0)
		if err != nil {
			return nil, err
		}
		p, err := NewOnStartupTriggeringPolicy(minSize, minAge)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	switch len(policies) {
	case 0:
		return nil, fmt.Errorf("%w: no triggering policy configured", ErrInvalidArgument)
	case 1:
		return policies[0], nil
	}
	return NewCompositeTriggeringPolicy(policies...), nil
}

// 文件名条件在外层，其余条件按 all 或 any 组合
func buildDeleteActions(list []DeleteConfig, sub Substitutor, now func() time.Time, log *zap.Logger) ([]Action, error) {
	var actions []Action
	for _, d := range list {
		base := sub.Replace(d.BasePath)
		if base == "" {
			return nil, fmt.Errorf("%w: delete action requires a base path", ErrInvalidArgument)
		}
		var conds []PathCondition
		if d.Age != "" {
			age, err := ParseAge(d.Age)
			if err != nil {
				return nil, err
			}
			conds = append(conds, NewIfLastModified(age, now))
		}
		if d.AccumulatedSize != "" {
			n, err := ParseFileSize(d.AccumulatedSize)
			if err != nil {
				return nil, err
			}
			conds = append(conds, NewIfAccumulatedFileSize(n))
		}
		if d.AccumulatedCount > 0 {
			conds = append(conds, NewIfAccumulatedFileCount(d.AccumulatedCount))
		}
		var cond PathCondition
		if len(conds) > 0 {
			if d.Any {
				cond = IfAny(conds...)
			} else {
				cond = IfAll(conds...)
			}
		}
		var nested []PathCondition
		if cond != nil {
			nested = []PathCondition{cond}
		}
		switch {
		case d.Glob != "":
			c, err := NewIfFileNameGlob(sub.Replace(d.Glob), nested...)
			if err != nil {
				return nil, fmt.Errorf("%w: glob %q: %v", ErrInvalidArgument, d.Glob, err)
			}
			cond = c
		case d.Regex != "":
			c, err := NewIfFileNameRegex(d.Regex, nested...)
			if err != nil {
				return nil, fmt.Errorf("%w: regex %q: %v", ErrInvalidArgument, d.Regex, err)
			}
			cond = c
		}
		if cond == nil {
			return nil, fmt.Errorf("%w: delete action on %s has no conditions", ErrInvalidArgument, base)
		}
		actions = append(actions, NewDeleteAction(base, DeleteOptions{
			MaxDepth:    d.MaxDepth,
			FollowLinks: d.FollowLinks,
			TestMode:    d.TestMode,
			Logger:      log,
		}, cond))
	}
	return actions, nil
}

func buildUpload(c *Config) ([]ArchiveActionFactory, []io.Closer, error) {
	if c.Upload == nil {
		return nil, nil, nil
	}
	store := c.Store
	var closers []io.Closer
	if store == nil {
		var opts []option.ClientOption
		if c.Upload.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(c.Upload.CredentialsFile))
		}
		gcs, err := NewGCSStore(context.Background(), c.Upload.Bucket, c.Upload.Prefix, opts...)
		if err != nil {
			return nil, nil, err
		}
		store = gcs
		closers = append(closers, gcs)
	}
	return []ArchiveActionFactory{UploadArchives(store, c.Upload.DeleteAfter)}, closers, nil
}

func closeResources(closers []io.Closer, log *zap.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn("failed to close resource", zap.Error(err))
		}
	}
}

// rw-r--r-- 或八进制 0644
func parseFilePermissions(s string) (os.FileMode, error) {
	if len(s) == 9 && strings.Trim(s, "rwx-") == "" {
		var mode os.FileMode
		for i, c := range s {
			if c != '-' && c != rune("rwxrwxrwx"[i]) {
				return 0, fmt.Errorf("%w: file permissions %q", ErrInvalidArgument, s)
			}
			if c != '-' {
				mode |= 1 << uint(8-i)
			}
		}
		return mode, nil
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0777 {
		return 0, fmt.Errorf("%w: file permissions %q", ErrInvalidArgument, s)
	}
	return os.FileMode(n), nil
}
