// internal/model/channel.go
package model

type InstanceStatus string

const (
	InstanceConnected    InstanceStatus = "connected"
	InstanceDisconnected InstanceStatus = "disconnected"
)

// ChannelInstance is one authenticated connection to the messaging provider.
type ChannelInstance struct {
	ID            string         `db:"id" json:"id"`
	OwnerID       string         `db:"owner_id" json:"owner_id"`
	Status        InstanceStatus `db:"status" json:"status"`
	CredentialRef string         `db:"credential_ref" json:"-"`
}

// ChannelSettings is the per-instance dispatch configuration row. The drain
// loop reads it at the top of every tick.
type ChannelSettings struct {
	InstanceID      string `db:"instance_id" json:"instance_id"`
	OwnerID         string `db:"owner_id" json:"owner_id"`
	DispatchEnabled bool   `db:"dispatch_enabled" json:"dispatch_enabled"`
	SendDelayMillis int    `db:"send_delay_ms" json:"send_delay_ms"`
	MaxPerMinute    int    `db:"max_per_minute" json:"max_per_minute"`
}

// DefaultChannelSettings applies when an instance has no settings row.
func DefaultChannelSettings(instanceID, ownerID string) ChannelSettings {
	return ChannelSettings{InstanceID: instanceID, OwnerID: ownerID, DispatchEnabled: true}
}
