package model

// Channel identifies the messaging provider a conversation lives on.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelMessenger Channel = "messenger"
	ChannelInstagram Channel = "instagram"
)

// Channels lists every supported channel.
func Channels() []Channel {
	return []Channel{ChannelWhatsApp, ChannelMessenger, ChannelInstagram}
}

// IsValid reports whether c is a supported channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelMessenger, ChannelInstagram:
		return true
	}
	return false
}

// UsesPhoneIdentity reports whether senders on c are keyed by phone number
// rather than by (page, external user) pairs.
func (c Channel) UsesPhoneIdentity() bool {
	return c == ChannelWhatsApp
}

func (c Channel) String() string {
	return string(c)
}
