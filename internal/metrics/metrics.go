// Package metrics exposes Prometheus instruments for the chat platform.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesSent        *prometheus.CounterVec
	AttachmentsUploaded *prometheus.CounterVec
	ReadReceipts        prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	BroadcastsDropped   prometheus.Counter
	BookingTransitions  *prometheus.CounterVec
}

// New creates the instruments and registers them with reg. A nil registerer
// leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "petbnb_messages_sent_total",
			Help: "Messages persisted, by payload kind",
		}, []string{"kind"}),
		AttachmentsUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "petbnb_attachments_uploaded_total",
			Help: "Attachment uploads, by outcome",
		}, []string{"outcome"}),
		ReadReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petbnb_read_receipts_total",
			Help: "Mark-as-read calls served",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "petbnb_realtime_subscriptions",
			Help: "Open realtime subscriptions on this instance",
		}),
		BroadcastsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "petbnb_realtime_dropped_total",
			Help: "Subscribers dropped because their buffer was full",
		}),
		BookingTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "petbnb_booking_transitions_total",
			Help: "Booking status changes, by target status",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesSent,
			m.AttachmentsUploaded,
			m.ReadReceipts,
			m.ActiveSubscriptions,
			m.BroadcastsDropped,
			m.BookingTransitions,
		)
	}
	return m
}

// Noop returns unregistered instruments.
func Noop() *Metrics {
	return New(nil)
}
