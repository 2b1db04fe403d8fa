package queue

import "fmt"

// DeliveryError reports a redelivery attempt that reached the origin but
// was rejected.
type DeliveryError struct {
	ID         string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("queue: delivery of %s rejected with status %d", e.ID, e.StatusCode)
}
