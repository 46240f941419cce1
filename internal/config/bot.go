package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// BotConfig drives the scripted load/smoke-test player.
type BotConfig struct {
	ServerURL    string        `env:"BOT_SERVER_URL" envDefault:"http://localhost:8080"`
	Token        string        `env:"BOT_TOKEN"`
	Name         string        `env:"BOT_NAME" envDefault:"table-bot"`
	SessionID    string        `env:"BOT_SESSION_ID"`
	InviteCode   string        `env:"BOT_INVITE_CODE"`
	ChatInterval time.Duration `env:"BOT_CHAT_INTERVAL" envDefault:"10s"`
	DiceInterval time.Duration `env:"BOT_DICE_INTERVAL" envDefault:"25s"`
}

func LoadBot() (BotConfig, error) {
	var cfg BotConfig
	if err := env.Parse(&cfg); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}
