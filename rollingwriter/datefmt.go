package rollingwriter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 支持的日期字母，与 SimpleDateFormat 一致
const dateLetters = "GyYMLwWDdFEuaHkKhmsSzZX"

type dateField struct {
	letter  byte // 0 表示原样输出
	count   int
	literal string
}

// 编译后的日期格式，如 yyyy-MM-dd HH:mm:ss.SSS
type dateFormat struct {
	layout string
	fields []dateField
	rules  weekRules
}

func compileDateFormat(layout string, rules weekRules) (*dateFormat, error) {
	f := &dateFormat{layout: layout, rules: rules}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			f.fields = append(f.fields, dateField{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(layout); {
		c := layout[i]
		switch {
		case c == '\'':
			if i+1 < len(layout) && layout[i+1] == '\'' {
				lit.WriteByte('\'')
				i += 2
				continue
			}
			j := i + 1
			for ; j < len(layout); j++ {
				if layout[j] != '\'' {
					lit.WriteByte(layout[j])
					continue
				}
				if j+1 < len(layout) && layout[j+1] == '\'' {
					lit.WriteByte('\'')
					j++
					continue
				}
				break
			}
			if j >= len(layout) {
				return nil, fmt.Errorf("%w: unterminated quote in date pattern %q", ErrInvalidArgument, layout)
			}
			i = j + 1
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			if !strings.ContainsRune(dateLetters, rune(c)) {
				return nil, fmt.Errorf("%w: illegal pattern character %q in %q", ErrInvalidArgument, c, layout)
			}
			j := i
			for j < len(layout) && layout[j] == c {
				j++
			}
			flush()
			f.fields = append(f.fields, dateField{letter: c, count: j - i})
			i = j
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return f, nil
}

// 最小的时间单位决定滚动频率，引号内的字母不参与
func (f *dateFormat) frequency() Frequency {
	freq := NoFrequency
	for _, fl := range f.fields {
		var cur Frequency
		switch fl.letter {
		case 'S':
			cur = EveryMillisecond
		case 's':
			cur = EverySecond
		case 'm':
			cur = EveryMinute
		case 'H', 'k', 'K', 'h':
			cur = Hourly
		case 'd', 'D', 'F', 'E', 'u':
			cur = Daily
		case 'w', 'W':
			cur = Weekly
		case 'M', 'L':
			cur = Monthly
		case 'y', 'Y':
			cur = Annually
		}
		if cur > freq {
			freq = cur
		}
	}
	return freq
}

func (f *dateFormat) format(t time.Time) string {
	var b strings.Builder
	for _, fl := range f.fields {
		if fl.letter == 0 {
			b.WriteString(fl.literal)
			continue
		}
		n := fl.count
		switch fl.letter {
		case 'G':
			if t.Year() > 0 {
				b.WriteString("AD")
			} else {
				b.WriteString("BC")
			}
		case 'y':
			writeYear(&b, t.Year(), n)
		case 'Y':
			y, _ := f.rules.weekOfYear(t)
			writeYear(&b, y, n)
		case 'M', 'L':
			switch {
			case n >= 4:
				b.WriteString(t.Month().String())
			case n == 3:
				b.WriteString(t.Month().String()[:3])
			default:
				writePadded(&b, int(t.Month()), n)
			}
		case 'w':
			_, w := f.rules.weekOfYear(t)
			writePadded(&b, w, n)
		case 'W':
			writePadded(&b, f.rules.weekOfMonth(t), n)
		case 'D':
			writePadded(&b, t.YearDay(), n)
		case 'd':
			writePadded(&b, t.Day(), n)
		case 'F':
			writePadded(&b, (t.Day()-1)/7+1, n)
		case 'E':
			if n >= 4 {
				b.WriteString(t.Weekday().String())
			} else {
				b.WriteString(t.Weekday().String()[:3])
			}
		case 'u':
			wd := int(t.Weekday())
			if wd == 0 {
				wd = 7
			}
			writePadded(&b, wd, n)
		case 'a':
			if t.Hour() < 12 {
				b.WriteString("AM")
			} else {
				b.WriteString("PM")
			}
		case 'H':
			writePadded(&b, t.Hour(), n)
		case 'k':
			h := t.Hour()
			if h == 0 {
				h = 24
			}
			writePadded(&b, h, n)
		case 'K':
			writePadded(&b, t.Hour()%12, n)
		case 'h':
			h := t.Hour() % 12
			if h == 0 {
				h = 12
			}
			writePadded(&b, h, n)
		case 'm':
			writePadded(&b, t.Minute(), n)
		case 's':
			writePadded(&b, t.Second(), n)
		case 'S':
			writePadded(&b, t.Nanosecond()/int(time.Millisecond), n)
		case 'z':
			name, _ := t.Zone()
			b.WriteString(name)
		case 'Z':
			b.WriteString(t.Format("-0700"))
		case 'X':
			if _, off := t.Zone(); off == 0 {
				b.WriteByte('Z')
				continue
			}
			switch n {
			case 1:
				b.WriteString(t.Format("-07"))
			case 2:
				b.WriteString(t.Format("-0700"))
			default:
				b.WriteString(t.Format("-07:00"))
			}
		}
	}
	return b.String()
}

func writeYear(b *strings.Builder, y, n int) {
	if n == 2 {
		writePadded(b, y%100, 2)
		return
	}
	writePadded(b, y, n)
}

func writePadded(b *strings.Builder, v, width int) {
	s := strconv.Itoa(v)
	for i := len(s); i < width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
}
