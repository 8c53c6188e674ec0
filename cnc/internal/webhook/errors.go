package webhook

import "errors"

// ErrDeliveryFailed wraps every delivery attempt failure, whether from a
// transport error or a non-2xx response. Callers use errors.Is for checks;
// the dispatcher itself only logs it, since delivery failures never block
// the event that triggered them.
var ErrDeliveryFailed = errors.New("webhook: delivery failed")
