package eventbus

import (
	"time"

	redis "github.com/go-redis/redis/v8"
)

// Role gates whether Init starts the three reader loops. Publish is always
// available regardless of Role; this is its only semantic effect.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleConsumer  Role = "consumer"
	RoleBoth      Role = "both"
)

const (
	defaultName             = "default"
	defaultMessageRetention = 300 * time.Second
	defaultStreamTTL        = 3600 * time.Second
	minStreamTTL            = 300 * time.Second
	defaultMaxMessageCount  = 5000
	initialStreamTTL        = 60 * time.Second
)

// Config is the constructor's options object, matching the public API
// surface: {name?, redis, messageRetention?, streamTTL?, onlyNew?, debug?,
// maxMessageCount?, role?}.
type Config struct {
	// Name namespaces all keys under "eventbus:"+Name+":". Default "default".
	Name string

	// Redis carries the connection options for the store. Required.
	Redis *redis.Options

	// MessageRetention is advisory; it is currently only surfaced (via
	// Config) and not directly enforced. MaxMessageCount via XTRIM is the
	// operative retention control.
	MessageRetention time.Duration

	// StreamTTL is the EXPIRE value renewed every maintenance tick.
	// Clamped to a minimum of 300s; smaller values are silently raised.
	StreamTTL time.Duration

	// OnlyNew selects the consumer-group start id: "$" (only new) when
	// true, "0" (replay from the beginning) when false.
	OnlyNew bool

	// Debug enables diagnostic (Debug-level) logging.
	Debug bool

	// MaxMessageCount is the XTRIM MAXLEN target. Default 5000.
	MaxMessageCount int64

	// Role gates whether reader loops are started. Default RoleBoth.
	Role Role

	// Codec overrides the envelope codec. Default MsgpackCodec{}.
	Codec Codec

	// newStore lets tests substitute a fake Store; nil uses go-redis.
	newStore func(*redis.Options) Store
}

// Option mutates a Config in place, mirroring kafka/options.go's
// functional-option style.
type Option func(*Config)

func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

func WithStreamTTL(ttl time.Duration) Option {
	return func(c *Config) { c.StreamTTL = ttl }
}

func WithMessageRetention(d time.Duration) Option {
	return func(c *Config) { c.MessageRetention = d }
}

func WithMaxMessageCount(n int64) Option {
	return func(c *Config) { c.MaxMessageCount = n }
}

func WithOnlyNew() Option {
	return func(c *Config) { c.OnlyNew = true }
}

func WithDebug() Option {
	return func(c *Config) { c.Debug = true }
}

func WithRole(role Role) Option {
	return func(c *Config) { c.Role = role }
}

func WithCodec(codec Codec) Option {
	return func(c *Config) { c.Codec = codec }
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.MessageRetention <= 0 {
		c.MessageRetention = defaultMessageRetention
	}
	if c.StreamTTL <= 0 {
		c.StreamTTL = defaultStreamTTL
	}
	if c.StreamTTL < minStreamTTL {
		c.StreamTTL = minStreamTTL
	}
	if c.MaxMessageCount <= 0 {
		c.MaxMessageCount = defaultMaxMessageCount
	}
	if c.Role == "" {
		c.Role = RoleBoth
	}
	if c.Codec == nil {
		c.Codec = MsgpackCodec{}
	}
	return c
}

func (c Config) startID() string {
	if c.OnlyNew {
		return "$"
	}
	return "0"
}
