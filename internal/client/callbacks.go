package client

import (
	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/observability"
	"github.com/danmuck/urbilink/internal/protocol"
)

// SetCallback registers h for messages carrying tag.
func (c *Client) SetCallback(tag string, h callback.Handler) (callback.ID, error) {
	return c.track(c.registry.Register(tag, h))
}

// SetWildcardCallback registers h for every server message.
func (c *Client) SetWildcardCallback(h callback.Handler) (callback.ID, error) {
	return c.track(c.registry.RegisterWildcard(h))
}

// SetErrorCallback registers h for every !!! message.
func (c *Client) SetErrorCallback(h callback.Handler) (callback.ID, error) {
	return c.track(c.registry.RegisterError(h))
}

// SetClientErrorCallback registers h for local connection failures.
func (c *Client) SetClientErrorCallback(h callback.Handler) (callback.ID, error) {
	return c.track(c.registry.RegisterClientError(h))
}

func (c *Client) DeleteCallback(id callback.ID) error {
	err := c.registry.Unregister(id)
	observability.SetRegistrations(c.cfg.Host, c.registry.Len())
	return err
}

func (c *Client) AssociatedTag(id callback.ID) (string, bool) {
	return c.registry.AssociatedTag(id)
}

func (c *Client) MakeUniqueTag() string {
	return c.registry.MakeUniqueTag()
}

// NotifyCallbacks dispatches msg as if the server had sent it.
func (c *Client) NotifyCallbacks(msg protocol.Message) int {
	return c.registry.Dispatch(msg)
}

func (c *Client) track(id callback.ID, err error) (callback.ID, error) {
	if err == nil {
		observability.SetRegistrations(c.cfg.Host, c.registry.Len())
	}
	return id, err
}
