package rollingwriter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	KB int64 = 1 << (10 * (iota + 1))
	MB
	GB
	TB
)

var fileSizePattern = regexp.MustCompile(`(?i)^([0-9][0-9,]*(?:\.[0-9]+)?|\.[0-9]+)\s*([KMGT]?B)?$`)

// 解析 10KB、1 MB、0.51 GB、1,000 KB 这类大小，按1024进位，小数部分截断
func ParseFileSize(s string) (int64, error) {
	m := fileSizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: file size %q", ErrInvalidArgument, s)
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: file size %q: %v", ErrInvalidArgument, s, err)
	}
	unit := int64(1)
	switch strings.ToUpper(m[2]) {
	case "KB":
		unit = KB
	case "MB":
		unit = MB
	case "GB":
		unit = GB
	case "TB":
		unit = TB
	}
	return int64(n * float64(unit)), nil
}
