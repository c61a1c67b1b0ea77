package eventhub

import "errors"

var (
	ErrUnknownSession    = errors.New("unknown session stream")
	ErrStreamExists      = errors.New("session stream already open")
	ErrStreamClosed      = errors.New("session stream is closed")
	ErrStreamRemoved     = errors.New("session stream was removed")
	ErrSubscriberDropped = errors.New("subscriber dropped for falling behind")
	ErrSubscriptionDone  = errors.New("subscription closed")
)
