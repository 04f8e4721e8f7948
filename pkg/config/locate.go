package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName 未指定配置文件时，在可执行文件同目录查找
const DefaultFileName = "settings.yaml"

// ResolvePath 确定配置文件路径：命令行参数优先，否则取可执行文件同目录的 settings.yaml
func ResolvePath(arg string) (string, error) {
	return resolvePath(arg, executableDir)
}

func resolvePath(arg string, exeDir func() (string, error)) (string, error) {
	if arg != "" {
		if _, err := os.Stat(arg); err != nil {
			return "", &ConfigError{Path: arg, Err: fmt.Errorf("settings file not found: %w", err)}
		}
		return arg, nil
	}

	dir, err := exeDir()
	if err != nil {
		return "", &ConfigError{Err: fmt.Errorf("locate executable: %w", err)}
	}
	candidate := filepath.Join(dir, DefaultFileName)
	stat, err := os.Stat(candidate)
	if err != nil {
		return "", &ConfigError{Path: candidate, Err: fmt.Errorf("could not find %s: %w", DefaultFileName, err)}
	}
	if stat.IsDir() {
		return "", &ConfigError{Path: candidate, Err: errors.New("settings path is a directory")}
	}
	return candidate, nil
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}
