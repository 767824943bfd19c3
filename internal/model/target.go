// internal/model/target.go
package model

// DispatchTarget is a destination address plus its resolved display name.
type DispatchTarget struct {
	Address string `db:"target_address" json:"address"`
	Name    string `db:"target_name" json:"name"`
}

type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
	PayloadVideo PayloadKind = "video"
	PayloadAudio PayloadKind = "audio"
)

func (k PayloadKind) Valid() bool {
	switch k {
	case PayloadText, PayloadImage, PayloadVideo, PayloadAudio:
		return true
	}
	return false
}

// NeedsMedia reports whether the payload carries binary content.
func (k PayloadKind) NeedsMedia() bool {
	return k == PayloadImage || k == PayloadVideo || k == PayloadAudio
}
