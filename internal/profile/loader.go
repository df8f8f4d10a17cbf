package profile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"perpagent/internal/logger"
)

// FileConfig 是风险档位覆盖文件的结构，例如：
//
//	profiles:
//	  moderate:
//	    guidance: |
//	      RISK PROFILE: MODERATE ...
type FileConfig struct {
	Profiles map[string]Override `yaml:"profiles"`
}

type Override struct {
	Guidance string `yaml:"guidance"`
}

// Snapshot 是某一时刻生效的覆盖表。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Overrides map[string]string
}

// Store 提供风险档位文案；未覆盖的档位回落到内置文案。
type Store struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewStore 在 path 为空时只使用内置文案；否则读取文件并监听变更。
func NewStore(path string) (*Store, error) {
	s := &Store{path: strings.TrimSpace(path)}
	if s.path == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profile config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := s.reload(); err != nil {
			logger.Errorf("risk profile reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	s.v = v
	return s, nil
}

// Guidance 返回档位对应的提示词片段，未知档位按 conservative 处理。
func (s *Store) Guidance(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if s != nil {
		s.mu.RLock()
		txt, ok := s.snapshot.Overrides[name]
		s.mu.RUnlock()
		if ok {
			return txt
		}
	}
	if txt, ok := builtin[name]; ok {
		return txt
	}
	return builtin[Conservative]
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Version: s.snapshot.Version, LoadedAt: s.snapshot.LoadedAt, Overrides: make(map[string]string, len(s.snapshot.Overrides))}
	for k, v := range s.snapshot.Overrides {
		out.Overrides[k] = v
	}
	return out
}

func (s *Store) reload() error {
	cfg, err := readFile(s.path)
	if err != nil {
		return err
	}
	overrides := make(map[string]string, len(cfg.Profiles))
	for name, ov := range cfg.Profiles {
		name = strings.ToLower(strings.TrimSpace(name))
		if !IsKnown(name) {
			return fmt.Errorf("unknown risk profile %q", name)
		}
		txt := strings.TrimSpace(ov.Guidance)
		if txt == "" {
			continue
		}
		overrides[name] = txt + "\n"
	}
	s.mu.Lock()
	s.snapshot = Snapshot{Version: s.snapshot.Version + 1, LoadedAt: time.Now(), Overrides: overrides}
	s.mu.Unlock()
	logger.Infof("risk profiles reloaded %d overrides from %s", len(overrides), filepath.Base(s.path))
	return nil
}

func readFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read risk profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse risk profile config failed: %w", err)
	}
	return cfg, nil
}
