package main

import (
	"chat-hub/runtime"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

type Config struct {
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	JWTIssuer         string        `env:"JWT_ISSUER,default=chat-hub"`
	CacheTTL          time.Duration `env:"CACHE_TTL,default=5m"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=0"`
	MembershipMode    string        `env:"MEMBERSHIP_MODE,default=multiplexed"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=16384"`
	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=20"`
	RateLimitInterval time.Duration `env:"RATE_LIMIT_INTERVAL,default=10s"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=256"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT,default=5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	EnableModeration  bool          `env:"ENABLE_MODERATION,default=true"`
	CensorCharacter   string        `env:"CENSOR_CHARACTER,default=*"`
	CensoredDir       string        `env:"CENSORED_DIR"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) MembershipPolicy() (runtime.MembershipPolicy, error) {
	return runtime.ParseMembershipPolicy(c.MembershipMode)
}

// CharacterRune is the replacement rune of censored words, exactly one character.
func (c Config) CharacterRune() (rune, error) {
	if utf8.RuneCountInString(c.CensorCharacter) != 1 {
		return 0, fmt.Errorf("CENSOR_CHARACTER must be a single character, got %q", c.CensorCharacter)
	}
	r, _ := utf8.DecodeRuneInString(c.CensorCharacter)
	return r, nil
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	return lo.FilterMap(strings.Split(c.AllowedOrigins, ","), func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		return origin, origin != ""
	})
}
