package am

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
)

// backupCount is how many rotated copies of a config file are kept.
const backupCount = 3

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	oldest := configPath + ".back" + strconv.Itoa(backupCount)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		logger.Logger.Warnw("Failed to delete old config backup", "path", oldest, logger.FieldError, err)
	}

	for i := backupCount - 1; i >= 1; i-- {
		from := configPath + ".back" + strconv.Itoa(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, configPath+".back"+strconv.Itoa(i+1)); err != nil {
			return errors.Wrapf(err, "failed to rotate %s", from)
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(configPath+".back1", content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// UserConfigPath returns ~/.datagraph/am.toml
func UserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ConfigFileName)
}

// SetValue writes a single dotted key into the user config file, keeping
// the other keys in place and rotating backups first. The cached
// configuration is reset so the next Load sees the new value.
func SetValue(key string, value any) error {
	configPath := UserConfigPath()
	if configPath == "" {
		return errors.New("could not determine home directory")
	}
	if err := setValueInFile(configPath, key, value); err != nil {
		return err
	}
	Reset()
	return nil
}

func setValueInFile(configPath, key string, value any) error {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return errors.Newf("invalid config key %q", key)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	config := map[string]any{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return errors.Wrapf(err, "failed to parse %s", configPath)
		}
	}

	section := config
	for _, p := range parts[:len(parts)-1] {
		next, ok := section[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			section[p] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value

	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	logger.Logger.Infow("Config value written", "key", key, logger.FieldPath, configPath)
	return nil
}

// Render returns the effective configuration as TOML
func Render(c *Config) ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render config")
	}
	return data, nil
}
