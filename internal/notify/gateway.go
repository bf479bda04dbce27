// Package notify delivers out-of-band redemption messages.
package notify

import (
	"context"
	"fmt"
)

// Gateway sends a human-readable message to an out-of-band address. Delivery
// failure never invalidates an already-confirmed escrow; callers report it as
// a degraded-success outcome.
type Gateway interface {
	Send(ctx context.Context, address, message string) (DeliveryReceipt, error)
}

type DeliveryReceipt struct {
	ProviderID string
}

// DeliveryError carries the provider's reason without conflating it with
// infrastructure failure elsewhere in the pipeline.
type DeliveryError struct {
	Address string
	Reason  string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sms delivery to %s failed: %s", e.Address, e.Reason)
}
