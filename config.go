package logroll

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Muskchen/logroll/rollingwriter"
	"gopkg.in/yaml.v2"
)

// 读取日志配置，每个appender的rolling部分以默认配置为基础
func LoadConfig(path, typ string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	var raw struct {
		Config
		Appenders []struct {
			Level   string           `json:"level" yaml:"level"`
			Rolling *json.RawMessage `json:"rolling" yaml:"-"`
		} `json:"appenders" yaml:"-"`
	}
	cfg := &Config{}
	switch typ {
	case "json":
		if err := json.Unmarshal(buf, &raw); err != nil {
			return nil, err
		}
		*cfg = raw.Config
		cfg.Appenders = nil
		for _, app := range raw.Appenders {
			a := Appender{Level: app.Level}
			if app.Rolling != nil {
				rc := rollingwriter.NewDefaultConfig()
				if err := json.Unmarshal(*app.Rolling, &rc); err != nil {
					return nil, err
				}
				a.Rolling = &rc
			}
			cfg.Appenders = append(cfg.Appenders, a)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, err
		}
		var apps struct {
			Appenders []struct {
				Rolling yaml.MapSlice `yaml:"rolling"`
			} `yaml:"appenders"`
		}
		if err := yaml.Unmarshal(buf, &apps); err != nil {
			return nil, err
		}
		for i := range cfg.Appenders {
			if cfg.Appenders[i].Rolling == nil || i >= len(apps.Appenders) {
				continue
			}
			out, err := yaml.Marshal(apps.Appenders[i].Rolling)
			if err != nil {
				return nil, err
			}
			rc := rollingwriter.NewDefaultConfig()
			if err := yaml.Unmarshal(out, &rc); err != nil {
				return nil, err
			}
			cfg.Appenders[i].Rolling = &rc
		}
	default:
		return nil, fmt.Errorf("%w: config type %q", rollingwriter.ErrInvalidArgument, typ)
	}
	return cfg, nil
}
