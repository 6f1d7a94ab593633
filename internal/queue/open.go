package queue

import (
	"fmt"
	"net/url"

	"github.com/kiranshivaraju/findoc/internal/cache"
	"github.com/kiranshivaraju/findoc/internal/logging"
	"go.uber.org/zap"
)

// Open returns the Broker selected by the scheme of brokerURL, bound to the named queue.
func Open(brokerURL, name string, logger *zap.Logger) (Broker, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		rc, err := cache.NewRedisCache(brokerURL)
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		b := NewRedisBroker(rc, name, logger)
		b.closer = rc.Close
		return b, nil
	case "amqp", "amqps":
		b, err := NewAMQPBroker(brokerURL, name, logging.NewWatermillAdapter(logger))
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		return b, nil
	case "memory":
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}
