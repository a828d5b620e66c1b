package main

import (
	"chat-hub/runtime"
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_From_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("BADGER_FILEPATH", "/tmp/chat-hub")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MEMBERSHIP_MODE", "exclusive")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	var config Config
	_, err := env.UnmarshalFromEnviron(&config)

	req.NoError(err)
	req.Equal("localhost:8080", config.Address())
	req.Equal(5*time.Minute, config.CacheTTL)
	req.Equal([]string{"https://a.example.com", "https://b.example.com"}, config.Origins())
	policy, err := config.MembershipPolicy()
	req.NoError(err)
	req.Equal(runtime.Exclusive, policy)
	char, err := config.CharacterRune()
	req.NoError(err)
	req.Equal('*', char)
}

func TestConfig_Derived_Values(t *testing.T) {
	req := require.New(t)

	_, err := Config{MembershipMode: "broadcast"}.MembershipPolicy()
	req.Error(err)

	_, err = Config{CensorCharacter: "**"}.CharacterRune()
	req.Error(err)
	char, err := Config{CensorCharacter: "█"}.CharacterRune()
	req.NoError(err)
	req.Equal('█', char)

	req.Empty(Config{}.Origins())
}
