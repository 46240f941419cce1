package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type SessionConfig struct {
	MaxPlayers     int `env:"SESSION_MAX_PLAYERS" envDefault:"6"`
	MaxPlayersHard int `env:"SESSION_MAX_PLAYERS_HARD" envDefault:"12"`

	PlayerReclaimGrace time.Duration `env:"PLAYER_RECLAIM_GRACE" envDefault:"60s"`
	SessionGrace       time.Duration `env:"SESSION_GRACE" envDefault:"5m"`
	JanitorInterval    time.Duration `env:"SESSION_JANITOR_INTERVAL" envDefault:"1m"`

	SendQueueDepth int `env:"CONN_SEND_QUEUE_DEPTH" envDefault:"64"`
}

func LoadSession() (SessionConfig, error) {
	var cfg SessionConfig
	err := env.Parse(&cfg)
	return cfg, err
}
