package realtime

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultHeartbeat     = 30 * time.Second
	defaultNotifyChannel = "chat_message_insert"
	defaultRedisPrefix   = "realtime:"
)

// Option alters the defaults of a feed constructor. Options a transport does not use are
// ignored.
type Option interface {
	apply(*options)
}

type optionFunc func(o *options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	logger        *zap.SugaredLogger
	apiKey        string
	accessToken   string
	heartbeat     time.Duration
	notifyChannel string
	redisPrefix   string
}

func newOptions(opts []Option) options {
	o := options{
		logger:        zap.NewNop().Sugar(),
		heartbeat:     defaultHeartbeat,
		notifyChannel: defaultNotifyChannel,
		redisPrefix:   defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(logger *zap.SugaredLogger) Option {
	return optionFunc(func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	})
}

// WithAPIKey sets the project key appended to the websocket URL as ?apikey=.
func WithAPIKey(key string) Option {
	return optionFunc(func(o *options) {
		o.apiKey = key
	})
}

// WithAccessToken sets the user token sent with every websocket channel join,
// so row-level security applies to the delivered changes.
func WithAccessToken(token string) Option {
	return optionFunc(func(o *options) {
		o.accessToken = token
	})
}

// WithHeartbeat sets the websocket heartbeat period.
func WithHeartbeat(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.heartbeat = d
		}
	})
}

// WithNotifyChannel sets the Postgres NOTIFY channel the insert trigger publishes on.
func WithNotifyChannel(name string) Option {
	return optionFunc(func(o *options) {
		if name != "" {
			o.notifyChannel = name
		}
	})
}

// WithRedisPrefix sets the prefix of the Redis pub/sub channel, "realtime:" by default.
func WithRedisPrefix(prefix string) Option {
	return optionFunc(func(o *options) {
		o.redisPrefix = prefix
	})
}
