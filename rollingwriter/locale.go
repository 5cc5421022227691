package rollingwriter

import (
	"strings"
	"time"
)

// 一周从周日开始的地区
var sundayFirst = map[string]bool{
	"AG": true, "AS": true, "BD": true, "BR": true, "BS": true, "BT": true, "BW": true, "BZ": true,
	"CA": true, "CO": true, "DM": true, "DO": true, "ET": true, "GT": true, "GU": true, "HK": true,
	"HN": true, "ID": true, "IL": true, "IN": true, "JM": true, "JP": true, "KE": true, "KH": true,
	"KR": true, "LA": true, "MH": true, "MM": true, "MO": true, "MT": true, "MX": true, "MZ": true,
	"NI": true, "NP": true, "PA": true, "PE": true, "PH": true, "PK": true, "PR": true, "PT": true,
	"PY": true, "SA": true, "SG": true, "SV": true, "TH": true, "TT": true, "TW": true, "UM": true,
	"US": true, "VE": true, "VI": true, "WS": true, "YE": true, "ZA": true, "ZW": true,
}

// 一周从周六开始的地区
var saturdayFirst = map[string]bool{
	"AE": true, "AF": true, "BH": true, "DJ": true, "DZ": true, "EG": true, "IQ": true, "IR": true,
	"JO": true, "KW": true, "LY": true, "OM": true, "QA": true, "SD": true, "SY": true,
}

// 第一周至少包含4天的地区（ISO 8601）
var isoWeekRegions = map[string]bool{
	"AD": true, "AT": true, "AX": true, "BE": true, "BG": true, "CH": true, "CZ": true, "DE": true,
	"DK": true, "EE": true, "ES": true, "FI": true, "FO": true, "FR": true, "GB": true, "GF": true,
	"GG": true, "GI": true, "GP": true, "GR": true, "HU": true, "IE": true, "IM": true, "IS": true,
	"IT": true, "JE": true, "LI": true, "LT": true, "LU": true, "MC": true, "MQ": true, "NL": true,
	"NO": true, "PL": true, "RE": true, "RU": true, "SE": true, "SJ": true, "SK": true, "SM": true,
	"VA": true,
}

// 周的划分规则
type weekRules struct {
	first   time.Weekday
	minDays int
}

// 解析 en_US、de-DE 这类地区，空字符串按 en_US 处理
func localeWeekRules(locale string) weekRules {
	region := "US"
	if locale != "" {
		region = ""
		parts := strings.FieldsFunc(locale, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
		for i, p := range parts {
			if i > 0 && len(p) == 2 {
				region = strings.ToUpper(p)
				break
			}
		}
	}
	r := weekRules{first: time.Monday, minDays: 1}
	switch {
	case sundayFirst[region]:
		r.first = time.Sunday
	case saturdayFirst[region]:
		r.first = time.Saturday
	}
	if isoWeekRegions[region] {
		r.minDays = 4
	}
	return r
}

// 一周开始那天的0点
func (r weekRules) startOfWeek(t time.Time) time.Time {
	back := (int(t.Weekday()) - int(r.first) + 7) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-back, 0, 0, 0, 0, t.Location())
}

// 第一周在一段时间内开始的天（从1开始，可能小于1）
func (r weekRules) firstWeekStart(first time.Time) int {
	offset := (int(first.Weekday()) - int(r.first) + 7) % 7
	start := 1 - offset
	if 7-offset < r.minDays {
		start += 7
	}
	return start
}

// 年内的第几周，跨年的周可能属于上一年或下一年
func (r weekRules) weekOfYear(t time.Time) (year, week int) {
	year = t.Year()
	start := r.firstWeekStart(time.Date(year, 1, 1, 0, 0, 0, 0, t.Location()))
	doy := t.YearDay()
	if doy < start {
		return r.weekOfYear(time.Date(year-1, 12, 31, 0, 0, 0, 0, t.Location()))
	}
	days := time.Date(year, 12, 31, 0, 0, 0, 0, t.Location()).YearDay()
	next := days + r.firstWeekStart(time.Date(year+1, 1, 1, 0, 0, 0, 0, t.Location()))
	if doy >= next {
		return year + 1, 1
	}
	return year, (doy-start)/7 + 1
}

// 月内的第几周，不足第一周的天为第0周
func (r weekRules) weekOfMonth(t time.Time) int {
	start := r.firstWeekStart(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()))
	d := t.Day()
	if d < start {
		return 0
	}
	return (d-start)/7 + 1
}
