package jetstream

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// streamConfigEqual reports whether the properties this service manages match.
func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.Storage == b.Storage &&
		a.MaxAge == b.MaxAge &&
		a.Duplicates == b.Duplicates &&
		slices.Equal(a.Subjects, b.Subjects)
}

// consumerConfigEqual compares the delivery settings the relay worker depends on.
func consumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.FilterSubject == b.FilterSubject &&
		a.MaxDeliver == b.MaxDeliver &&
		a.AckWait == b.AckWait &&
		a.MaxAckPending == b.MaxAckPending
}
