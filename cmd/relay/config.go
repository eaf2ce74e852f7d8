package main

import (
	"fmt"
	"time"
)

type Config struct {
	LogLevel            string        `env:"LOG_LEVEL,default=INFO"`
	Host                string        `env:"HOST,default=localhost"`
	Port                int           `env:"PORT,default=8080"`
	BadgerFilepath      string        `env:"BADGER_FILEPATH,default=./data/badger"`
	BadgerInMemory      bool          `env:"BADGER_IN_MEMORY,default=false"`
	BlugeFilepath       string        `env:"BLUGE_FILEPATH,default=./data/bluge"`
	SessionBufferSize   int           `env:"SESSION_BUFFER_SIZE,default=256"`
	PushTimeout         time.Duration `env:"PUSH_TIMEOUT,default=10s"`
	PushTTL             time.Duration `env:"PUSH_TTL,default=24h"`
	VapidSubscriber     string        `env:"VAPID_SUBSCRIBER,default=mailto:admin@localhost"`
	VapidKeysPath       string        `env:"VAPID_KEYS_PATH,default=./data/vapid-keys.json"`
	ModerationEnabled   bool          `env:"MODERATION_ENABLED,default=false"`
	CensoredWordsDir    string        `env:"CENSORED_WORDS_DIR"`
	CharReplacement     string        `env:"CHARACTER_REPLACEMENT,default=*"`
	TypingRatePerSecond int           `env:"TYPING_RATE_PER_SECOND,default=5"`
	TypingBurst         int           `env:"TYPING_BURST,default=5"`
	MaxMessageSize      int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	PingPeriod          time.Duration `env:"PING_PERIOD,default=54s"`
	PongWait            time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait           time.Duration `env:"WRITE_WAIT,default=10s"`
	MetricInterval      time.Duration `env:"METRIC_INTERVAL,default=10s"`
	RestartInterval     time.Duration `env:"RESTART_INTERVAL,default=1s"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}

// Validate rejects settings the websocket keepalive cannot work with.
func (c Config) Validate() error {
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("PING_PERIOD (%s) must be shorter than PONG_WAIT (%s)", c.PingPeriod, c.PongWait)
	}
	if c.ModerationEnabled && c.CensoredWordsDir == "" {
		return fmt.Errorf("MODERATION_ENABLED requires CENSORED_WORDS_DIR")
	}
	if c.SessionBufferSize <= 0 {
		return fmt.Errorf("SESSION_BUFFER_SIZE must be positive, got %d", c.SessionBufferSize)
	}
	return nil
}
