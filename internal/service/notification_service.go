package service

import (
	"github.com/rs/zerolog/log"
)

// NotificationSink receives attempt lifecycle events. Delivery is
// best-effort and must never fail the operation that emits the event.
type NotificationSink interface {
	AttemptCompleted(userID, attemptID uint, examTitle string, percentage float64)
	GradingFinalized(userID, attemptID uint, examTitle string, percentage float64)
}

type logNotificationSink struct{}

// NewLogNotificationSink returns a sink that records events in the service
// log. A push or email backend can replace it without touching callers.
func NewLogNotificationSink() NotificationSink {
	return &logNotificationSink{}
}

func (s *logNotificationSink) AttemptCompleted(userID, attemptID uint, examTitle string, percentage float64) {
	log.Info().
		Uint("userID", userID).
		Uint("attemptID", attemptID).
		Str("exam", examTitle).
		Float64("percentage", percentage).
		Msg("attempt completed")
}

func (s *logNotificationSink) GradingFinalized(userID, attemptID uint, examTitle string, percentage float64) {
	log.Info().
		Uint("userID", userID).
		Uint("attemptID", attemptID).
		Str("exam", examTitle).
		Float64("percentage", percentage).
		Msg("grading finalized")
}
