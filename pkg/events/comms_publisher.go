package events

import (
	"context"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/livequery/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalSubject overrides the global invalidation subject (e.g. from LIVEQUERY_INVALIDATION_SUBJECT).
	GlobalSubject string
}

// CommsPublisher publishes invalidation events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	globalSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectInvalidated
	if opts != nil && opts.GlobalSubject != "" {
		globalSubject = opts.GlobalSubject
	}
	return &CommsPublisher{nc: nc, globalSubject: globalSubject}
}

// PublishInvalidated publishes an InvalidatedEvent to both the per-key and global subjects.
func (p *CommsPublisher) PublishInvalidated(_ context.Context, event *InvalidatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	keySubject := commsutil.BuildInvalidatedSubject(p.globalSubject, event.QueryKey)
	if err := p.nc.Publish(keySubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, keySubject, err))
		return err
	}

	if err := p.nc.Publish(p.globalSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published invalidation for %s", commsPublisherLogPrefix, event.QueryKey))
	return nil
}
