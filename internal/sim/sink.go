package sim

import (
	"context"

	"transitlk/internal/client"
	"transitlk/internal/messaging"
	"transitlk/internal/registry"
)

// HTTPSink posts to the backend API.
type HTTPSink struct{ C *client.Client }

func (s HTTPSink) PublishLocation(ctx context.Context, req registry.UpdateRequest) error {
	_, err := s.C.PostLocation(ctx, req)
	return err
}

func (s HTTPSink) PublishStop(ctx context.Context, req registry.StopRequest) error {
	return s.C.StopSharing(ctx, req)
}

// NATSSink publishes on the driver subjects.
type NATSSink struct{ P *messaging.Publisher }

func (s NATSSink) PublishLocation(_ context.Context, req registry.UpdateRequest) error {
	return s.P.PublishLocation(req)
}

func (s NATSSink) PublishStop(_ context.Context, req registry.StopRequest) error {
	if err := s.P.PublishStop(req); err != nil {
		return err
	}
	return s.P.Flush()
}
