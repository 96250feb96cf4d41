package capture

import "time"

var (
	MatchPath     = matchPath
	HasPathPrefix = hasPathPrefix
)

// SetRetryPolicy shortens the consumer's retry loop.
func (c *KafkaConsumer) SetRetryPolicy(backoff time.Duration, maxAttempts int) {
	c.retryBackoff = backoff
	c.maxAttempts = maxAttempts
}
