// Package dispatch fans evaluation requests out to oracle nodes over an
// abstract request channel and tags each with a fresh correlation ID.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

// Request is one evaluation request bound for a single oracle node. The
// endpoint routes the message; the body carries the full terms payload so
// the node needs no further context.
type Request struct {
	Endpoint      string         `json:"-"`
	CorrelationID string         `json:"correlation_id"`
	ContractID    string         `json:"contract_id"`
	JobID         string         `json:"job_id"`
	Terms         contract.Terms `json:"terms"`
	CallbackURL   string         `json:"callback_url,omitempty"`
}

// Sender delivers one request to its oracle endpoint.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req Request) error

func (f SenderFunc) Send(ctx context.Context, req Request) error { return f(ctx, req) }

// Dispatcher builds and sends one request per registered job.
type Dispatcher struct {
	sender      Sender
	callbackURL string
	log         *logger.Logger
}

var _ contract.Dispatcher = (*Dispatcher)(nil)

// New constructs a dispatcher. callbackURL is where oracle nodes deliver
// their fulfillments.
func New(sender Sender, callbackURL string, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	return &Dispatcher{sender: sender, callbackURL: callbackURL, log: log}
}

// Dispatch sends one request per job and returns the correlation IDs issued,
// in job order. A send failure aborts the fan-out; the caller treats the
// round as never started.
func (d *Dispatcher) Dispatch(ctx context.Context, contractID string, terms contract.Terms, jobs []contract.Job) ([]string, error) {
	if len(jobs) == 0 {
		return nil, contract.ErrNoJobs
	}

	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		req := Request{
			Endpoint:      job.Endpoint,
			CorrelationID: uuid.NewString(),
			ContractID:    contractID,
			JobID:         job.JobID,
			Terms:         terms,
			CallbackURL:   d.callbackURL,
		}
		if err := d.sender.Send(ctx, req); err != nil {
			return nil, fmt.Errorf("send job %s to %s: %w", job.JobID, job.Endpoint, err)
		}
		ids = append(ids, req.CorrelationID)
	}

	d.log.WithField("contract_id", contractID).
		WithField("requests", len(ids)).
		Info("evaluation round dispatched")
	return ids, nil
}
