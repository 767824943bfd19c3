// Package channel is the outbound messaging client contract and its HTTP
// adapter for the provider gateway.
package channel

import (
	"context"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

// Message is one resolved outbound payload. Status posts carry their whole
// audience in To and set Status.
type Message struct {
	InstanceID    string
	CredentialRef string
	To            []model.DispatchTarget
	Kind          model.PayloadKind
	Text          string
	MediaRef      *string
	Status        bool
}

type Receipt struct {
	MessageID string
}

// Client sends messages through a connected channel instance.
type Client interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
	// ConnectedInstance returns nil, nil when the owner has no connected instance.
	ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error)
}

// InstanceLookup resolves an owner's connected instance. The channel
// repository satisfies it.
type InstanceLookup interface {
	ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error)
}
