// Package events publishes workflow lifecycle events to NATS for the
// notification service and other downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"complyflow/backend/internal/logging"
	"complyflow/backend/pkg/models"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "complyflow.workflows"

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on <prefix>.<org>.<event type>.
// Publishing is non-fatal: failures are logged and never reach the caller.
type NATSPublisher struct {
	nc     conn
	prefix string
	log    *logging.Logger
}

// Connect dials NATS and returns a publisher and the underlying connection,
// which the caller drains on shutdown.
func Connect(url, prefix string, log *logging.Logger) (*NATSPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("complyflow"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewNATSPublisher(nc, prefix, log), nc, nil
}

// NewNATSPublisher creates a publisher on an existing connection.
func NewNATSPublisher(nc conn, prefix string, log *logging.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), log: log}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event *models.WorkflowEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.OrgID, event.Type)
}

// Publish sends event. It never blocks on delivery and never fails.
func (p *NATSPublisher) Publish(ctx context.Context, event *models.WorkflowEvent) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("failed to marshal workflow event", "event_type", string(event.Type), "error", err)
		return
	}
	subject := p.Subject(event)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn("failed to publish workflow event (non-fatal)",
			"subject", subject, "instance_id", event.InstanceID, "error", err)
		return
	}
	p.log.Debug("workflow event published", "subject", subject, "instance_id", event.InstanceID)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, *models.WorkflowEvent) {}
