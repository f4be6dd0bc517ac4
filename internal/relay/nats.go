package relay

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes relay messages on a NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// DialNATS connects to url, naming the connection after the client.
func DialNATS(url, name string, opts ...nats.Option) (*NATSPublisher, error) {
	if name != "" {
		opts = append(opts, nats.Name(name))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc}, nil
}

// Publish sends data to subject.
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	return p.nc.Publish(subject, data)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc.Close()
	return err
}
