package refresh

import "codeberg.org/mutker/bmsmon/internal/logger"

// Subscriber reacts to changed telemetry values. value is a float64 for
// scalar fields and a []float64 the subscriber may keep for sequences.
type Subscriber interface {
	OnChange(field string, value any)
}

// SubscriberFunc adapts a function to the Subscriber interface
type SubscriberFunc func(field string, value any)

func (f SubscriberFunc) OnChange(field string, value any) {
	f(field, value)
}

// Subscribers fans a change out to each subscriber in order
type Subscribers []Subscriber

func (s Subscribers) OnChange(field string, value any) {
	for _, sub := range s {
		sub.OnChange(field, value)
	}
}

// LogSubscriber writes every change to the log
type LogSubscriber struct {
	Log logger.Logger
}

func (l LogSubscriber) OnChange(field string, value any) {
	log := l.Log
	if log == nil {
		log = logger.Default()
	}

	log.Info().Str("field", field).Interface("value", value).Msg("Telemetry changed")
}
