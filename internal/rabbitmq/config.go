package rabbitmq

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BrokerConfig names the broker objects owned by one logical service.
// It is a value type: copies handed to components cannot be changed behind their back.
type BrokerConfig struct {
	ExchangeName       string `validate:"required"`
	RoutingKey         string `validate:"required"`
	DeadLetterExchange string `validate:"required,nefield=ExchangeName"`
	DeadLetterQueue    string `validate:"required,nefield=RoutingKey"`
	URL                string `validate:"required,url"`
}

// ServiceConfig derives the conventional object names for service.
func ServiceConfig(service, url string) BrokerConfig {
	return BrokerConfig{
		ExchangeName:       service + "_exchange",
		RoutingKey:         service + "_routing_key",
		DeadLetterExchange: service + "_dlx",
		DeadLetterQueue:    service + "_dlq",
		URL:                url,
	}
}

// Validate checks that every name is set and the URL parses.
func (c BrokerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return nil
}
