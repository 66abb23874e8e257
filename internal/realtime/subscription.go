package realtime

import (
	"fmt"

	"chat-client/internal/logging"
)

// Subscription is the registration returned by OnMessage.
type Subscription struct {
	client *Client
	fn     func(string)
}

// OnMessage makes fn the receiver of inbound text frames, replacing any
// previous subscriber. fn runs on the reader goroutine.
func (c *Client) OnMessage(fn func(text string)) *Subscription {
	if fn == nil {
		panic("realtime.Client.OnMessage: callback must not be nil")
	}
	sub := &Subscription{client: c, fn: fn}
	c.sub.Store(sub)
	return sub
}

// Unsubscribe clears the registration if it is still the current one.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.client == nil {
		return
	}
	s.client.sub.CompareAndSwap(s, nil)
}

func (c *Client) deliver(text string) {
	sub := c.sub.Load()
	if sub == nil {
		c.logger.Debug("dropping realtime message: no subscriber")
		return
	}
	c.dispatching.Store(true)
	defer func() {
		c.dispatching.Store(false)
		if r := recover(); r != nil {
			c.logger.Error("realtime subscriber panicked", logging.Field("panic", fmt.Sprint(r)))
		}
	}()
	sub.fn(text)
}
