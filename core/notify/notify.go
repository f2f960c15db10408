// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package notify delivers change notifications of records to sinks.

A Fanout is the core.Notifier of the record accessors. For every created, updated
or deleted record it builds one Notification and sends it to all its sinks: a Kafka
topic, an SQS queue, the audit table, or the log. A failing sink is logged and
counted, it never fails the operation which triggered the notification.
*/
package notify

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/granja/core"
	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/metrics"
)

// Notification is a change of a record
type Notification struct {
	Resource  string          `json:"resource"`
	Operation core.Operation  `json:"operation"`
	RecordID  string          `json:"record_id,omitempty"`
	Identity  string          `json:"identity,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink receives notifications
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	Send(ctx context.Context, n Notification) error
}

// DefaultTimeout is the time a sink gets to deliver a notification
const DefaultTimeout = 5 * time.Second

// Fanout sends every notification to all of its sinks
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

// NewFanout returns a notifier for the sinks
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, timeout: DefaultTimeout, now: time.Now}
}

// WithTimeout sets the delivery timeout per sink
func (f *Fanout) WithTimeout(timeout time.Duration) *Fanout {
	f.timeout = timeout
	return f
}

// Sinks returns the names of the sinks
func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify implements core.Notifier
func (f *Fanout) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) {
	n := Notification{
		Resource:  resource,
		Operation: operation,
		Identity:  logger.IdentityFromContext(ctx),
		RequestID: logger.RequestIDFromContext(ctx),
		Payload:   payload,
		CreatedAt: f.now().UTC(),
	}
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &head); err == nil {
		n.RecordID = head.ID
	}

	// the request may be done before all sinks are, so they get their own deadline
	base := context.WithoutCancel(ctx)
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(base, f.timeout)
		err := s.Send(sctx, n)
		cancel()
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 6001: notify %s %s %s via %s", resource, operation, n.RecordID, s.Name())
			metrics.NotificationFailed(s.Name())
		}
	}
}

// Log is a sink which writes notifications to the log
type Log struct{}

// Name implements Sink
func (Log) Name() string { return "log" }

// Send implements Sink
func (Log) Send(ctx context.Context, n Notification) error {
	logger.FromContext(ctx).Infof("%s %s %s", n.Resource, n.Operation, n.RecordID)
	return nil
}
