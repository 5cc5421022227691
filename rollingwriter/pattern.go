package rollingwriter

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 滚动频率，由模板中最小的日期单位决定
type Frequency int

const (
	NoFrequency Frequency = iota
	Annually
	Monthly
	Weekly
	Daily
	Hourly
	EveryMinute
	EverySecond
	EveryMillisecond
)

func (f Frequency) String() string {
	switch f {
	case Annually:
		return "annually"
	case Monthly:
		return "monthly"
	case Weekly:
		return "weekly"
	case Daily:
		return "daily"
	case Hourly:
		return "hourly"
	case EveryMinute:
		return "every minute"
	case EverySecond:
		return "every second"
	case EveryMillisecond:
		return "every millisecond"
	}
	return "none"
}

// 近似的单位时长
func (f Frequency) unit() time.Duration {
	switch f {
	case Annually:
		return 365 * day
	case Monthly:
		return 28 * day
	case Weekly:
		return 7 * day
	case Daily:
		return day
	case Hourly:
		return time.Hour
	case EveryMinute:
		return time.Minute
	case EverySecond:
		return time.Second
	}
	return time.Millisecond
}

type tokenKind int

const (
	literalToken tokenKind = iota
	dateToken
	counterToken
)

type patternToken struct {
	kind    tokenKind
	literal string
	date    *dateFormat
	loc     *time.Location
	width   int
	zeroPad bool
}

type PatternOptions struct {
	Location *time.Location // 模板没有指定时区时使用，默认time.Local
	Locale   string
	Logger   *zap.Logger
}

// 文件名模板，如 logs/app-%d{yyyy-MM-dd-HH}{UTC}-%03i.log.gz
type PatternProcessor struct {
	pattern    string
	tokens     []patternToken
	frequency  Frequency
	loc        *time.Location
	rules      weekRules
	hasCounter bool
	ext        *FileExtension

	mu              sync.Mutex
	prevFileTime    time.Time
	nextFileTime    time.Time
	currentFileTime time.Time
	timeBased       bool
}

func NewPatternProcessor(pattern string, opts PatternOptions) (*PatternProcessor, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty file pattern", ErrInvalidArgument)
	}
	log := orStatus(opts.Logger)
	pp := &PatternProcessor{
		pattern: pattern,
		loc:     opts.Location,
		rules:   localeWeekRules(opts.Locale),
		ext:     lookupExtension(pattern),
	}
	if pp.loc == nil {
		pp.loc = time.Local
	}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			pp.tokens = append(pp.tokens, patternToken{kind: literalToken, literal: lit.String()})
			lit.Reset()
		}
	}
	seenDate := false
	for i := 0; i < len(pattern); {
		c := pattern[i]
		if c != '%' || i+1 == len(pattern) {
			lit.WriteByte(c)
			i++
			continue
		}
		if pattern[i+1] == '%' {
			lit.WriteByte('%')
			i += 2
			continue
		}
		j := i + 1
		zero := pattern[j] == '0'
		if zero {
			j++
		}
		start := j
		for j < len(pattern) && pattern[j] >= '0' && pattern[j] <= '9' {
			j++
		}
		width := 0
		if j > start {
			width, _ = strconv.Atoi(pattern[start:j])
		}
		if j >= len(pattern) {
			lit.WriteString(pattern[i:])
			break
		}
		switch pattern[j] {
		case 'i':
			flush()
			pp.tokens = append(pp.tokens, patternToken{kind: counterToken, width: width, zeroPad: zero})
			pp.hasCounter = true
			i = j + 1
		case 'd':
			layout, k, err := braced(pattern, j+1)
			if err != nil {
				return nil, err
			}
			if layout == "" {
				layout = "yyyy-MM-dd"
			}
			zone, k, err := braced(pattern, k)
			if err != nil {
				return nil, err
			}
			df, err := compileDateFormat(layout, pp.rules)
			if err != nil {
				return nil, err
			}
			tok := patternToken{kind: dateToken, date: df}
			if zone != "" {
				tok.loc = loadZone(zone, log)
			}
			flush()
			pp.tokens = append(pp.tokens, tok)
			if !seenDate {
				seenDate = true
				pp.frequency = df.frequency()
				if tok.loc != nil {
					pp.loc = tok.loc
				}
			}
			i = k
		default:
			// 不认识的转换符原样输出
			lit.WriteByte('%')
			i++
		}
	}
	flush()
	return pp, nil
}

// 读取 {…}，没有花括号时返回空串
func braced(pattern string, i int) (string, int, error) {
	if i >= len(pattern) || pattern[i] != '{' {
		return "", i, nil
	}
	end := strings.IndexByte(pattern[i:], '}')
	if end < 0 {
		return "", i, fmt.Errorf("%w: unterminated '{' in pattern %q", ErrInvalidArgument, pattern)
	}
	return pattern[i+1 : i+end], i + end + 1, nil
}

// 未知时区退回GMT并告警一次
func loadZone(name string, log *zap.Logger) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	upper := strings.ToUpper(name)
	for _, prefix := range []string{"GMT", "UTC"} {
		if !strings.HasPrefix(upper, prefix) || len(name) <= len(prefix) {
			continue
		}
		if off, ok := parseOffset(name[len(prefix):]); ok {
			return time.FixedZone(name, off)
		}
	}
	warnOnce(log, "zone:"+name, "unknown time zone, using GMT", zap.String("zone", name))
	return time.FixedZone("GMT", 0)
}

// +8、-05:30、+0530
func parseOffset(s string) (int, bool) {
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return 0, false
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	s = strings.ReplaceAll(s[1:], ":", "")
	var h, m int
	var err error
	switch {
	case len(s) <= 2:
		h, err = strconv.Atoi(s)
	case len(s) == 4:
		h, err = strconv.Atoi(s[:2])
		if err == nil {
			m, err = strconv.Atoi(s[2:])
		}
	default:
		return 0, false
	}
	if err != nil || h > 18 || m > 59 {
		return 0, false
	}
	return sign * (h*3600 + m*60), true
}

func (pp *PatternProcessor) Pattern() string { return pp.pattern }

func (pp *PatternProcessor) String() string { return pp.pattern }

func (pp *PatternProcessor) Frequency() Frequency { return pp.frequency }

func (pp *PatternProcessor) HasCounter() bool { return pp.hasCounter }

// 第一个日期的时区
func (pp *PatternProcessor) Location() *time.Location { return pp.loc }

// 模板末尾的压缩后缀，没有时为nil
func (pp *PatternProcessor) Extension() *FileExtension { return pp.ext }

func (pp *PatternProcessor) WeekStart() time.Weekday { return pp.rules.first }

func (pp *PatternProcessor) formatCounter(n int, tok patternToken) string {
	if tok.width == 0 {
		return strconv.Itoa(n)
	}
	if tok.zeroPad {
		return fmt.Sprintf("%0*d", tok.width, n)
	}
	return fmt.Sprintf("%*d", tok.width, n)
}

// FormatFileName 按时间和序号生成文件名，同样的输入总是得到同样的结果
func (pp *PatternProcessor) FormatFileName(t time.Time, counter int) string {
	var b strings.Builder
	for _, tok := range pp.tokens {
		switch tok.kind {
		case literalToken:
			b.WriteString(tok.literal)
		case dateToken:
			loc := tok.loc
			if loc == nil {
				loc = pp.loc
			}
			b.WriteString(tok.date.format(t.In(loc)))
		case counterToken:
			b.WriteString(pp.formatCounter(counter, tok))
		}
	}
	return b.String()
}

// 历史文件名，时间取上一个周期的开始
func (pp *PatternProcessor) FormatArchiveName(now time.Time, counter int) string {
	return pp.FormatFileName(pp.ArchiveTime(now), counter)
}

// 去掉模板带的压缩后缀
func (pp *PatternProcessor) StripExtension(name string) string {
	if pp.ext == nil {
		return name
	}
	return strings.TrimSuffix(name, pp.ext.Suffix)
}

// 匹配某个周期内所有历史文件，序号为第一个分组，压缩后缀为第二个分组
func (pp *PatternProcessor) fileRegexp(t time.Time) (string, *regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	captured := false
	for i, tok := range pp.tokens {
		switch tok.kind {
		case literalToken:
			lit := tok.literal
			if i == len(pp.tokens)-1 {
				lit = pp.StripExtension(lit)
			}
			b.WriteString(regexp.QuoteMeta(lit))
		case dateToken:
			loc := tok.loc
			if loc == nil {
				loc = pp.loc
			}
			b.WriteString(regexp.QuoteMeta(tok.date.format(t.In(loc))))
		case counterToken:
			if tok.width > 0 && !tok.zeroPad {
				b.WriteString(" *")
			}
			if captured {
				b.WriteString(`\d+`)
			} else {
				b.WriteString(`(\d+)`)
				captured = true
			}
		}
	}
	if !captured {
		b.WriteString("()")
	}
	b.WriteString(extensionGroup())
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return "", nil, err
	}
	name := pp.FormatFileName(t, 0)
	dir := ""
	if i := strings.LastIndexAny(name, pathSeparators); i >= 0 {
		dir = name[:i+1]
	}
	return dir, re, nil
}

var pathSeparators = string([]byte{'/', os.PathSeparator})

// NextTime 计算now之后的下一个滚动时间点，并记录上一周期的开始时间
func (pp *PatternProcessor) NextTime(now time.Time, increment int, modulate bool) time.Time {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	next, start := pp.period(now, increment, modulate)
	pp.prevFileTime = pp.nextFileTime
	pp.nextFileTime = start
	return next
}

// 日及以上用日历计算，小时及以下用绝对时长，夏令时切换时也不会算错
func (pp *PatternProcessor) period(now time.Time, inc int, modulate bool) (next, start time.Time) {
	if inc < 1 {
		inc = 1
	}
	step := func(v int) int {
		if modulate {
			return inc - v%inc
		}
		return inc
	}
	back := func(v int) int {
		if modulate {
			return v % inc
		}
		return 0
	}
	loc := pp.loc
	t := now.In(loc)
	y, mo, d := t.Date()
	switch pp.frequency {
	case Annually:
		next = time.Date(y+step(y), 1, 1, 0, 0, 0, 0, loc)
		start = time.Date(y-back(y), 1, 1, 0, 0, 0, 0, loc)
	case Monthly:
		m0 := int(mo) - 1
		next = time.Date(y, time.Month(m0+step(m0)+1), 1, 0, 0, 0, 0, loc)
		start = time.Date(y, time.Month(m0-back(m0)+1), 1, 0, 0, 0, 0, loc)
	case Weekly:
		ws := pp.rules.startOfWeek(t)
		_, w := pp.rules.weekOfYear(t)
		next = time.Date(ws.Year(), ws.Month(), ws.Day()+7*step(w), 0, 0, 0, 0, loc)
		start = time.Date(ws.Year(), ws.Month(), ws.Day()-7*back(w), 0, 0, 0, 0, loc)
	case Daily:
		doy := t.YearDay()
		next = time.Date(y, mo, d+step(doy), 0, 0, 0, 0, loc)
		start = time.Date(y, mo, d-back(doy), 0, 0, 0, 0, loc)
	case Hourly:
		base := t.Add(-time.Duration(t.Minute())*time.Minute - time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
		next = base.Add(time.Duration(step(t.Hour())) * time.Hour)
		start = base.Add(-time.Duration(back(t.Hour())) * time.Hour)
	case EveryMinute:
		base := t.Add(-time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
		next = base.Add(time.Duration(step(t.Minute())) * time.Minute)
		start = base.Add(-time.Duration(back(t.Minute())) * time.Minute)
	case EverySecond:
		base := t.Add(-time.Duration(t.Nanosecond()))
		next = base.Add(time.Duration(step(t.Second())) * time.Second)
		start = base.Add(-time.Duration(back(t.Second())) * time.Second)
	case EveryMillisecond:
		ms := t.Nanosecond() / int(time.Millisecond)
		base := t.Add(-time.Duration(t.Nanosecond() % int(time.Millisecond)))
		next = base.Add(time.Duration(step(ms)) * time.Millisecond)
		start = base.Add(-time.Duration(back(ms)) * time.Millisecond)
	default:
		return time.Time{}, time.Time{}
	}
	if !next.After(t) {
		next = t.Add(pp.frequency.unit())
	}
	return next, start
}

// 滚动前的时间记录，滚动失败时恢复
type fileTimes struct {
	prev, next, current time.Time
}

func (pp *PatternProcessor) saveTimes() fileTimes {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return fileTimes{prev: pp.prevFileTime, next: pp.nextFileTime, current: pp.currentFileTime}
}

func (pp *PatternProcessor) restoreTimes(t fileTimes) {
	pp.mu.Lock()
	pp.prevFileTime, pp.nextFileTime, pp.currentFileTime = t.prev, t.next, t.current
	pp.mu.Unlock()
}

// 由大小触发时，历史文件使用当前周期的时间
func (pp *PatternProcessor) UpdateTime() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if !pp.nextFileTime.IsZero() || !pp.timeBased {
		pp.prevFileTime = pp.nextFileTime
	}
}

func (pp *PatternProcessor) SetTimeBased(b bool) {
	pp.mu.Lock()
	pp.timeBased = b
	pp.mu.Unlock()
}

func (pp *PatternProcessor) IsTimeBased() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.timeBased
}

func (pp *PatternProcessor) SetPrevFileTime(t time.Time) {
	pp.mu.Lock()
	pp.prevFileTime = t
	pp.mu.Unlock()
}

func (pp *PatternProcessor) PrevFileTime() time.Time {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.prevFileTime
}

func (pp *PatternProcessor) SetCurrentFileTime(t time.Time) {
	pp.mu.Lock()
	pp.currentFileTime = t
	pp.mu.Unlock()
}

// 历史文件的时间，没有记录时用now
func (pp *PatternProcessor) ArchiveTime(now time.Time) time.Time {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.prevFileTime.IsZero() {
		return now
	}
	return pp.prevFileTime
}

// 新文件的时间，直写模式使用
func (pp *PatternProcessor) CurrentTime(now time.Time) time.Time {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.currentFileTime.IsZero() {
		return now
	}
	return pp.currentFileTime
}
