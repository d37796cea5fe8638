package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Telegram      struct {
		Token string `json:"token"`
	} `json:"telegram"`
	AdminID int64 `json:"admin_id"`
	// Operators are "id:name" pairs.
	Operators        []string `json:"operators"`
	OperatorLanguage string   `json:"operator_language"`
	Support          struct {
		IdleTimeoutSec   int `json:"idle_timeout_sec"`
		EscalationSec    int `json:"escalation_sec"`
		SweepIntervalSec int `json:"sweep_interval_sec"`
	} `json:"support"`
	Broadcast struct {
		PollSchedule string `json:"poll_schedule"`
	} `json:"broadcast"`
	Translate struct {
		Endpoint   string `json:"endpoint"`
		TimeoutSec int    `json:"timeout_sec"`
	} `json:"translate"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".switchboard"),
		MaxConcurrent: 4,
	}
	cfg.LogLevel = "info"
	cfg.OperatorLanguage = "en"
	cfg.Support.IdleTimeoutSec = 1800
	cfg.Support.EscalationSec = 300
	cfg.Support.SweepIntervalSec = 60
	cfg.Broadcast.PollSchedule = "@every 1m"
	cfg.Translate.TimeoutSec = 10

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if admin := os.Getenv("SWITCHBOARD_ADMIN_ID"); admin != "" {
		id, err := strconv.ParseInt(admin, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse SWITCHBOARD_ADMIN_ID: %w", err)
		}
		cfg.AdminID = id
	}
	if ops := os.Getenv("SWITCHBOARD_OPERATORS"); ops != "" {
		cfg.Operators = splitPairs(ops)
	}
	if dataDir := os.Getenv("SWITCHBOARD_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// splitPairs splits a comma-separated "id:name,id:name" list, keeping the
// pairs themselves intact for the directory to parse.
func splitPairs(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
