package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// HUB_ADDR is the websocket endpoint of a running hub, the suites are skipped without it
	HubAddr   string `envconfig:"HUB_ADDR"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"chat-hub"`
	// E2E_DEBUG_JSON allows dumping every frame exchanged with the hub
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
