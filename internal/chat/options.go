package chat

import (
	"go.uber.org/zap"
)

// Option configures the chat components. Options a component has no use for are ignored.
type Option interface {
	apply(*options)
}

type optionFunc func(o *options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	table    string
}

func newOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop().Sugar(),
		table:  MessageTable,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{Logger: o.logger}
	}
	return o
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return optionFunc(func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	})
}

// WithNotifier routes user-facing alerts. Alerts are logged at warn level by default.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(o *options) {
		o.notifier = n
	})
}

// WithMessageTable overrides the table the hub listens on.
func WithMessageTable(table string) Option {
	return optionFunc(func(o *options) {
		if table != "" {
			o.table = table
		}
	})
}
