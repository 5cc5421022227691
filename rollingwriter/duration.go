package rollingwriter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

var isoDurationPattern = regexp.MustCompile(`(?i)^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseAge 解析 7d、12h、PT12H30M、P1DT2H 以及 time.ParseDuration 支持的写法
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrInvalidArgument)
	}
	if s[0] == 'P' || s[0] == 'p' {
		return parseISODuration(s)
	}
	if last := s[len(s)-1]; last == 'd' || last == 'D' {
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: duration %q", ErrInvalidArgument, s)
		}
		return time.Duration(n * float64(day)), nil
	}
	d, err := time.ParseDuration(strings.ToLower(s))
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalidArgument, s)
	}
	return d, nil
}

func parseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(strings.ToUpper(s), "T") {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalidArgument, s)
	}
	units := []time.Duration{7 * day, day, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: duration %q", ErrInvalidArgument, s)
		}
		d += time.Duration(n * float64(unit))
	}
	return d, nil
}

// 空字符串返回默认值
func parseAgeOr(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return ParseAge(s)
}
