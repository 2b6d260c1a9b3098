package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
	"keyprobe/internal/shared/types"
)

const defaultResultsFile = "keys.json"

// Default 返回未加载任何文件时使用的配置。
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{ResultsFile: defaultResultsFile},
		LogConf:    types.LogConf{Level: "info"},
	}
}

// LoadIni 加载 keyprobe.ini 行为配置文件。
// 文件不存在时返回默认配置，环境变量始终优先。
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err == nil {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return err
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if cfg.ResultsFile == "" {
		cfg.ResultsFile = defaultResultsFile
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(fileName)
	}

	overrideFromEnvInt(&cfg.WebConf.WebPort, "KEYPROBE_WEB_PORT")
	overrideFromEnvString(&cfg.LogConf.Level, "KEYPROBE_LOG_LEVEL")
	return nil
}

// ResultsPath 返回 key 存储文件的完整路径。
func ResultsPath(cfg *types.Config) string {
	if filepath.IsAbs(cfg.ResultsFile) {
		return cfg.ResultsFile
	}
	return filepath.Join(cfg.DataDir, cfg.ResultsFile)
}

// SettingsPath 返回 settings.json 的完整路径。
func SettingsPath(cfg *types.Config) string {
	return filepath.Join(cfg.DataDir, "settings.json")
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
