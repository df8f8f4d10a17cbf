package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取配置文件及其 include 覆盖文件，应用环境变量、默认值并校验。
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides 与 Load 相同，但命令行参数优先于环境变量与配置文件。
func LoadWithOverrides(path string, ov Overrides) (*Config, error) {
	v, err := readLayers(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	for _, key := range v.AllKeys() {
		setKeys.mark(key)
	}
	cfg.applyEnv(os.Getenv)
	ov.apply(&cfg)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readLayers 先读主配置，再按 include 顺序叠加覆盖文件（例如单个租户的资产与风险档位、
// 单独存放的 ai 段）。覆盖文件相对主配置所在目录解析，且不能再 include。
func readLayers(path string) (*viper.Viper, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	base, err := readFile(path)
	if err != nil {
		return nil, err
	}
	includes := base.GetStringSlice("include")
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.MergeConfigMap(withoutInclude(base.AllSettings())); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	seen := map[string]bool{filepath.Clean(path): true}
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		inc = filepath.Clean(inc)
		if seen[inc] {
			return nil, fmt.Errorf("config file %s included twice", inc)
		}
		seen[inc] = true
		layer, err := readFile(inc)
		if err != nil {
			return nil, err
		}
		if layer.IsSet("include") {
			return nil, fmt.Errorf("nested include not supported (%s)", inc)
		}
		if err := v.MergeConfigMap(layer.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", inc, err)
		}
	}
	return v, nil
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	return v, nil
}

func withoutInclude(settings map[string]any) map[string]any {
	delete(settings, "include")
	return settings
}
