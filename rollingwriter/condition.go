package rollingwriter

import (
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"time"
)

// 删除动作遍历到的文件
type PathInfo struct {
	Path string // 完整路径
	Rel  string // 相对basePath，使用 / 分隔
	Info fs.FileInfo
}

// 删除条件，Accept 返回true表示删除；BeforeWalk 在每次遍历前重置累计状态
type PathCondition interface {
	Accept(base string, f PathInfo) bool
	BeforeWalk()
}

// 所有条件都要求值，累计类的条件才不受顺序影响
func acceptAll(base string, f PathInfo, conds []PathCondition) bool {
	ok := true
	for _, c := range conds {
		if !c.Accept(base, f) {
			ok = false
		}
	}
	return ok
}

func resetAll(conds []PathCondition) {
	for _, c := range conds {
		c.BeforeWalk()
	}
}

// 文件名匹配，glob 作用于相对路径，不含 / 时也匹配文件名
type IfFileName struct {
	glob   string
	regex  *regexp.Regexp
	nested []PathCondition
}

func NewIfFileNameGlob(glob string, nested ...PathCondition) (*IfFileName, error) {
	if _, err := path.Match(glob, ""); err != nil {
		return nil, err
	}
	return &IfFileName{glob: glob, nested: nested}, nil
}

func NewIfFileNameRegex(expr string, nested ...PathCondition) (*IfFileName, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &IfFileName{regex: re, nested: nested}, nil
}

func (c *IfFileName) Accept(base string, f PathInfo) bool {
	var matched bool
	if c.regex != nil {
		matched = c.regex.MatchString(f.Rel)
	} else {
		matched, _ = path.Match(c.glob, f.Rel)
		if !matched {
			matched, _ = path.Match(c.glob, filepath.Base(f.Path))
		}
	}
	if !matched {
		return false
	}
	return acceptAll(base, f, c.nested)
}

func (c *IfFileName) BeforeWalk() { resetAll(c.nested) }

// 修改时间超过age
type IfLastModified struct {
	age    time.Duration
	now    func() time.Time
	nested []PathCondition
}

func NewIfLastModified(age time.Duration, now func() time.Time, nested ...PathCondition) *IfLastModified {
	if now == nil {
		now = time.Now
	}
	return &IfLastModified{age: age, now: now, nested: nested}
}

func (c *IfLastModified) Accept(base string, f PathInfo) bool {
	if c.now().Sub(f.Info.ModTime()) < c.age {
		return false
	}
	return acceptAll(base, f, c.nested)
}

func (c *IfLastModified) BeforeWalk() { resetAll(c.nested) }

// 按遍历顺序累计大小，超过阈值后的文件才满足
type IfAccumulatedFileSize struct {
	exceeds     int64
	accumulated int64
	nested      []PathCondition
}

func NewIfAccumulatedFileSize(exceeds int64, nested ...PathCondition) *IfAccumulatedFileSize {
	return &IfAccumulatedFileSize{exceeds: exceeds, nested: nested}
}

func (c *IfAccumulatedFileSize) Accept(base string, f PathInfo) bool {
	c.accumulated += f.Info.Size()
	if c.accumulated <= c.exceeds {
		return false
	}
	return acceptAll(base, f, c.nested)
}

func (c *IfAccumulatedFileSize) BeforeWalk() {
	c.accumulated = 0
	resetAll(c.nested)
}

// 按遍历顺序计数，超过阈值后的文件才满足
type IfAccumulatedFileCount struct {
	exceeds int
	count   int
	nested  []PathCondition
}

func NewIfAccumulatedFileCount(exceeds int, nested ...PathCondition) *IfAccumulatedFileCount {
	return &IfAccumulatedFileCount{exceeds: exceeds, nested: nested}
}

func (c *IfAccumulatedFileCount) Accept(base string, f PathInfo) bool {
	c.count++
	if c.count <= c.exceeds {
		return false
	}
	return acceptAll(base, f, c.nested)
}

func (c *IfAccumulatedFileCount) BeforeWalk() {
	c.count = 0
	resetAll(c.nested)
}

type ifAll struct{ conds []PathCondition }

// 全部满足
func IfAll(conds ...PathCondition) PathCondition { return &ifAll{conds} }

func (c *ifAll) Accept(base string, f PathInfo) bool { return acceptAll(base, f, c.conds) }
func (c *ifAll) BeforeWalk() { resetAll(c.conds) }

type ifAny struct{ conds []PathCondition }

// 任意一个满足
func IfAny(conds ...PathCondition) PathCondition { return &ifAny{conds} }

func (c *ifAny) Accept(base string, f PathInfo) bool {
	ok := false
	for _, cond := range c.conds {
		if cond.Accept(base, f) {
			ok = true
		}
	}
	return ok
}

func (c *ifAny) BeforeWalk() { resetAll(c.conds) }

type ifNot struct{ cond PathCondition }

func IfNot(cond PathCondition) PathCondition { return &ifNot{cond} }

func (c *ifNot) Accept(base string, f PathInfo) bool { return !c.cond.Accept(base, f) }
func (c *ifNot) BeforeWalk() { c.cond.BeforeWalk() }

// 自定义条件
type ConditionFunc func(base string, f PathInfo) bool

func (fn ConditionFunc) Accept(base string, f PathInfo) bool { return fn(base, f) }
func (fn ConditionFunc) BeforeWalk() {}
