// Package notify announces finished sync runs to downstream consumers.
package notify

import "context"

// Publisher delivers one payload to a topic and returns a message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
