package contracts

import "time"

// Metadata carries the broker-side details of a delivery
type Metadata struct {
	Exchange    string
	RoutingKey  string
	MessageID   string
	Timestamp   time.Time
	Redelivered bool
}

// Binding attaches a service's main queue to another exchange.
type Binding struct {
	ExchangeName string `toml:"exchange_name" validate:"required"`
	RoutingKey   string `toml:"routing_key" validate:"required"`
}
