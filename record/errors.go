package record

import "errors"

// Start/finish rejections surfaced synchronously to the dispatch layer.
var (
	// ErrAlreadyRecording rejects a start while a session exists for the user.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording rejects finish/cancel when no session is accepting it.
	// A duplicate finish on a session already finishing gets the same answer:
	// the send was not accepted.
	ErrNotRecording = errors.New("not recording")
)

// Reason classifies how a session reached a terminal transition. Delivered is
// the only reason that produces a clip; everything else cleans up as an abort.
type Reason int

const (
	ReasonDelivered Reason = iota
	ReasonCanceled
	ReasonTooShort
	ReasonAdapterError
	ReasonEncodeFailure
	ReasonDeliveryError
	ReasonPresenceAbort
)

func (r Reason) String() string {
	switch r {
	case ReasonDelivered:
		return "delivered"
	case ReasonCanceled:
		return "canceled"
	case ReasonTooShort:
		return "too_short"
	case ReasonAdapterError:
		return "adapter_error"
	case ReasonEncodeFailure:
		return "encode_failure"
	case ReasonDeliveryError:
		return "delivery_error"
	case ReasonPresenceAbort:
		return "presence_abort"
	default:
		return "unknown"
	}
}
