// Package transport defines the outbound chat adapter contract and the
// registry that resolves a configured platform name to a live adapter.
package transport

import (
	"context"
	"errors"
)

// ErrNoTransport means no adapter could serve a send.
var ErrNoTransport = errors.New("transport: no adapter available")

// Target identifies the destination chat/group.
type Target struct {
	GroupID string
}

// ForwardItem is one sub-item of a forward package, attributed to a
// configured sender identity.
type ForwardItem struct {
	Image      []byte
	SenderID   string
	SenderName string
}

// Adapter is a send-only chat platform client.
type Adapter interface {
	Name() string
	// Ready reports whether the adapter can currently send.
	Ready() bool
	// SendImage delivers one rendered card.
	SendImage(ctx context.Context, to Target, image []byte, caption string) error
	// SendForward delivers a forward package as a single compound message.
	SendForward(ctx context.Context, to Target, items []ForwardItem) error
}
