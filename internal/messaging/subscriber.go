package messaging

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"transitlk/internal/registry"
)

// Applier is the part of the registry the subscriber writes to.
type Applier interface {
	Upsert(registry.UpdateRequest) (registry.LocationRecord, error)
	Stop(route string) bool
}

type IngestMetrics interface {
	NATSReceivedInc()
	NATSRejectedInc()
}

// Subscriber applies driver messages to the registry.
type Subscriber struct {
	reg     Applier
	metrics IngestMetrics
	subs    []*nats.Subscription
}

func NewSubscriber(reg Applier, m IngestMetrics) *Subscriber {
	return &Subscriber{reg: reg, metrics: m}
}

// Subscribe listens on <prefix>.location.* and <prefix>.stop.*.
func (s *Subscriber) Subscribe(nc *nats.Conn, prefix string) error {
	for subject, handle := range map[string]func([]byte) error{
		prefix + ".location.*": s.handleLocation,
		prefix + ".stop.*":     s.handleStop,
	} {
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			if err := handle(msg.Data); err != nil {
				log.Printf("nats %s: %v", msg.Subject, err)
			}
		})
		if err != nil {
			s.Unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		log.Printf("nats subscribed subject=%s", subject)
	}
	return nil
}

func (s *Subscriber) Unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) handleLocation(data []byte) error {
	s.received()
	var req registry.UpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.rejected()
		return fmt.Errorf("decode location: %w", err)
	}
	if _, err := s.reg.Upsert(req); err != nil {
		s.rejected()
		return err
	}
	return nil
}

func (s *Subscriber) handleStop(data []byte) error {
	s.received()
	var req registry.StopRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.rejected()
		return fmt.Errorf("decode stop: %w", err)
	}
	if s.reg.Stop(string(req.Route)) {
		log.Printf("driver %s stopped sharing location for route %s", req.Driver, req.Route)
	}
	return nil
}

func (s *Subscriber) received() {
	if s.metrics != nil {
		s.metrics.NATSReceivedInc()
	}
}

func (s *Subscriber) rejected() {
	if s.metrics != nil {
		s.metrics.NATSRejectedInc()
	}
}
