package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("findoc:job:%s", jobID)
}

func QueueKey(name string) string {
	return fmt.Sprintf("findoc:queue:%s", name)
}

// ProcessingKey names the list holding deliveries claimed by one consumer.
func ProcessingKey(name, consumer string) string {
	return fmt.Sprintf("findoc:queue:%s:processing:%s", name, consumer)
}

// ConsumersKey names the set of consumers registered on a queue.
func ConsumersKey(name string) string {
	return fmt.Sprintf("findoc:queue:%s:consumers", name)
}

// HeartbeatKey names the expiring key that marks a consumer as alive.
func HeartbeatKey(name, consumer string) string {
	return fmt.Sprintf("findoc:queue:%s:heartbeat:%s", name, consumer)
}

func RateLimitKey(clientID string) string {
	return fmt.Sprintf("findoc:ratelimit:%s", clientID)
}

func ThrottleKey(agent string, window int64) string {
	return fmt.Sprintf("findoc:throttle:%s:%d", agent, window)
}
