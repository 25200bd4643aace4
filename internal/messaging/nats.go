// Package messaging carries driver updates over NATS. Drivers publish the
// same JSON bodies the HTTP API accepts; the server subscribes and applies
// them to the registry.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go"

	"transitlk/internal/registry"
)

// ConnMetrics tracks connection state.
type ConnMetrics interface {
	NATSSetConnected(connected bool)
}

// Connect dials url and keeps m informed of the connection state.
func Connect(url, name string, m ConnMetrics) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

func locationSubject(prefix, route string) string {
	return fmt.Sprintf("%s.location.%s", prefix, subjectToken(route))
}

func stopSubject(prefix, route string) string {
	return fmt.Sprintf("%s.stop.%s", prefix, subjectToken(route))
}

// Publisher is the driver-side sender.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: strings.Trim(prefix, ". ")}
}

func (p *Publisher) PublishLocation(req registry.UpdateRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.nc.Publish(locationSubject(p.prefix, string(req.Route)), b)
}

func (p *Publisher) PublishStop(req registry.StopRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.nc.Publish(stopSubject(p.prefix, string(req.Route)), b)
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush() error { return p.nc.Flush() }

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
