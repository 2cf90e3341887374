package gattc

import (
	"time"

	"github.com/pkg/errors"
)

// ATT imposes a 30 second transaction timeout. [Vol 3, Part F, 3.3.3]
const defaultRequestTimeout = 30 * time.Second

type config struct {
	requestTimeout time.Duration
	logger         Logger
	handler        NotificationHandler
}

func defaultConfig() config {
	return config{
		requestTimeout: defaultRequestTimeout,
		logger:         GetLogger(),
	}
}

// An Option is a configuration function for a Requester or a
// DiscoveryService.
type Option func(*config) error

// WithRequestTimeout overrides the protocol timeout applied to each
// outstanding request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithLogger routes the component's logging to l.
func WithLogger(l Logger) Option {
	return func(c *config) error {
		if l == nil {
			return errors.New("nil logger")
		}
		c.logger = l
		return nil
	}
}

// WithNotificationHandler installs the handler invoked for notifications
// and indications, instead of the default no-op.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(c *config) error {
		c.handler = h
		return nil
	}
}

func buildConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return c, errors.Wrap(err, "can't set options")
		}
	}
	return c, nil
}
