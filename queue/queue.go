// Package queue holds mutating requests that could not be delivered and
// redelivers them later.
package queue

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Request is one durably persisted request awaiting redelivery.
type Request struct {
	ID         string
	Method     string
	URL        string
	Header     http.Header
	Body       []byte
	EnqueuedAt time.Time
}

// Store persists queued requests. Enumeration order is insertion order.
//
// Implementations must be thread-safe!
type Store interface {
	// Append adds a request to the end of the queue.
	Append(Request) error
	// All returns all queued requests, oldest first.
	All() ([]Request, error)
	// Delete removes the request with the given id, if present.
	Delete(id string) error
	// Len returns the number of queued requests.
	Len() (int, error)
}

// Sender delivers one request, typically the resilient transport.
type Sender interface {
	Do(*http.Request) (*http.Response, error)
}

// Queue redelivers failed mutating requests.
type Queue struct {
	store  Store
	sender Sender
	log    zerolog.Logger
	now    func() time.Time
}

func New(store Store, sender Sender, log zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// Enqueue persists a request for later redelivery and returns its id.
// The body is captured as a snapshot; the caller keeps ownership of the
// original request.
func (q *Queue) Enqueue(method, url string, header http.Header, body []byte) (string, error) {
	queued := Request{
		ID:         uuid.NewString(),
		Method:     method,
		URL:        url,
		Header:     header.Clone(),
		Body:       body,
		EnqueuedAt: q.now(),
	}
	if err := q.store.Append(queued); err != nil {
		return "", err
	}
	q.log.Debug().
		Str("id", queued.ID).
		Str("method", method).
		Str("url", url).
		Msg("Queued request for redelivery")
	return queued.ID, nil
}

// Process attempts to redeliver every queued request in insertion order.
// Requests are removed on successful delivery and kept for the next run
// otherwise. A failing request never aborts processing of the rest.
func (q *Queue) Process(ctx context.Context) error {
	queued, err := q.store.All()
	if err != nil {
		return err
	}
	for _, item := range queued {
		if err := q.deliver(ctx, item); err != nil {
			q.log.Warn().Err(err).
				Str("id", item.ID).
				Str("url", item.URL).
				Msg("Redelivery failed, keeping request queued")
			continue
		}
		if err := q.store.Delete(item.ID); err != nil {
			q.log.Error().Err(err).Str("id", item.ID).Msg("Could not remove delivered request")
		}
	}
	return nil
}

// Len returns the number of requests currently queued.
func (q *Queue) Len() (int, error) {
	return q.store.Len()
}

func (q *Queue) deliver(ctx context.Context, item Request) error {
	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL, bytes.NewReader(item.Body))
	if err != nil {
		return err
	}
	for name, values := range item.Header {
		req.Header[name] = values
	}
	res, err := q.sender.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return &DeliveryError{ID: item.ID, StatusCode: res.StatusCode}
	}
	q.log.Debug().
		Str("id", item.ID).
		Int("status", res.StatusCode).
		Msg("Queued request delivered")
	return nil
}
