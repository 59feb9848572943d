package conf

import (
	"fmt"
	"path/filepath"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
)

// Load 读取配置文件（或目录）并扫描为 Bootstrap
// 返回的 closeFn 释放配置源，调用方在进程退出前调用
func Load(path string) (*Bootstrap, func(), error) {
	c := config.New(config.WithSource(file.NewSource(path)))
	if err := c.Load(); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	var bc Bootstrap
	if err := c.Scan(&bc); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("scan config %s: %w", path, err)
	}
	return &bc, func() { _ = c.Close() }, nil
}

// Log 日志配置，未配置时使用默认值
type Log struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Dir        string `json:"dir"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days"`
	MaxBackups int    `json:"max_backups"`
	NoConsole  bool   `json:"no_console"`
}

// LoggerConfig 生成 go-pkg logger 配置，文件名为 <dir>/<name>.log
func (l *Log) LoggerConfig(name string) *logger.Config {
	cfg := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      filepath.Join("logs", name+".log"),
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}
	if l == nil {
		return cfg
	}
	if l.Level != "" {
		cfg.Level = l.Level
	}
	if l.Format != "" {
		cfg.Format = l.Format
	}
	if l.Dir != "" {
		cfg.FilePath = filepath.Join(l.Dir, name+".log")
	}
	if l.MaxSizeMB > 0 {
		cfg.MaxSize = l.MaxSizeMB
	}
	if l.MaxAgeDays > 0 {
		cfg.MaxAge = l.MaxAgeDays
	}
	if l.MaxBackups > 0 {
		cfg.MaxBackups = l.MaxBackups
	}
	cfg.EnableConsole = !l.NoConsole
	return cfg
}
