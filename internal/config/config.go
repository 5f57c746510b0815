// Package config 从环境变量读取并校验启动配置。
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

type Config struct {
	Port       string
	BuildMode  string
	SystemKey  string
	LogLevel   zerolog.Level
	LogFile    string
	DBDriver   string
	DB         string
	Discord    Discord
	DD         DirectDecisions
	// InteractionTimeout 单个交互后台处理的最长时间
	InteractionTimeout time.Duration
	DedupTTL           time.Duration
}

type Discord struct {
	BotToken         string
	PublicKey        string
	AppID            string
	GuildID          string
	RegisterCommands bool
}

type DirectDecisions struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

func (c Config) Dev() bool {
	return c.BuildMode == "dev"
}

// Load 读取所有配置项，错误会被汇总后一次返回
func Load() (Config, error) {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	cfg := Config{
		Port:      env("APP_PORT", ":8080"),
		BuildMode: env("APP_BUILD_MODE", "prod"),
		SystemKey: os.Getenv("APP_SYSTEM_KEY"),
		LogFile:   env("APP_LOG_FILE", "app.log"),
		DBDriver:  env("APP_DB_DRIVER", "sqlite"),
		DB:        env("APP_DB", "voting.db"),
		Discord: Discord{
			BotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
			PublicKey: os.Getenv("DISCORD_PUBLIC_KEY"),
			AppID:     os.Getenv("DISCORD_APP_ID"),
			GuildID:   os.Getenv("DISCORD_GUILD_ID"),
		},
		DD: DirectDecisions{
			Token:  os.Getenv("DD_TOKEN"),
			APIURL: env("DD_API_URL", "https://api.directdecisions.com"),
		},
	}

	level, err := zerolog.ParseLevel(env("APP_LOG_LEVEL", "info"))
	if err != nil {
		fail("APP_LOG_LEVEL: %v", err)
	}
	cfg.LogLevel = level

	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		fail("APP_DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}

	for key, val := range map[string]string{
		"DISCORD_BOT_TOKEN":  cfg.Discord.BotToken,
		"DISCORD_PUBLIC_KEY": cfg.Discord.PublicKey,
		"DISCORD_APP_ID":     cfg.Discord.AppID,
		"DD_TOKEN":           cfg.DD.Token,
	} {
		if val == "" {
			fail("%s is required", key)
		}
	}
	if k := cfg.Discord.PublicKey; k != "" {
		if b, err := hex.DecodeString(k); err != nil || len(b) != 32 {
			fail("DISCORD_PUBLIC_KEY must be 64 hex characters")
		}
	}

	cfg.Discord.RegisterCommands = boolean("DISCORD_REGISTER_COMMANDS", true, fail)
	cfg.DD.Timeout = duration("DD_TIMEOUT", 10*time.Second, fail)
	cfg.InteractionTimeout = duration("INTERACTION_TIMEOUT", 30*time.Second, fail)
	cfg.DedupTTL = duration("DEDUP_TTL", 15*time.Minute, fail)

	if len(problems) > 0 {
		// map 遍历无序，排序后输出稳定
		slices.Sort(problems)
		return Config{}, errors.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration, fail func(string, ...any)) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fail("%s must be a positive duration, got %q", key, v)
		return def
	}
	return d
}

func boolean(key string, def bool, fail func(string, ...any)) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		fail("%s must be a boolean, got %q", key, v)
		return def
	}
	return b
}
