package config

type BroadcastConfig interface {
	GetRelayURL() string
	GetRelayAddr() string
	GetChannelName() string
	GetRelayRateLimit() float64
	GetRelayBurst() int
}

type Broadcast struct {
	RelayURL    string `env:"RELAY_URL" toml:"relay_url"`
	RelayAddr   string `env:"RELAY_ADDR" toml:"relay_addr"`
	ChannelName string `env:"CHANNEL_NAME" toml:"channel_name"`

	// Per-connection message rate on the relay.
	RelayRateLimit float64 `env:"RELAY_RATE_LIMIT" toml:"relay_rate_limit"`
	RelayBurst     int     `env:"RELAY_BURST" toml:"relay_burst"`
}

var _ BroadcastConfig = Broadcast{}

func (b Broadcast) GetRelayURL() string {
	return b.RelayURL
}

func (b Broadcast) GetRelayAddr() string {
	return b.RelayAddr
}

func (b Broadcast) GetChannelName() string {
	return b.ChannelName
}

func (b Broadcast) GetRelayRateLimit() float64 {
	return b.RelayRateLimit
}

func (b Broadcast) GetRelayBurst() int {
	if b.RelayBurst <= 0 {
		return 1
	}
	return b.RelayBurst
}
