package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

type Metrics struct {
	MessagesCount    Observer
	SpamCount        Observer
	LinkCount        Observer
	CommandCount     Observer
	VoiceCreated     Observer
	VoiceDeleted     Observer
	VoiceTransferred Observer
	PlatformErrors   Observer
	VoiceLatency     Observer
	ClearedCount     Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesCount,
		m.SpamCount,
		m.LinkCount,
		m.CommandCount,
		m.VoiceCreated,
		m.VoiceDeleted,
		m.VoiceTransferred,
		m.PlatformErrors,
		m.VoiceLatency,
		m.ClearedCount,
	}
}

// Nop returns metrics which record nothing. It is intended for tests and
// tools that don't serve metrics.
func Nop() *Metrics {
	return &Metrics{
		MessagesCount:    nop{},
		SpamCount:        nop{},
		LinkCount:        nop{},
		CommandCount:     nop{},
		VoiceCreated:     nop{},
		VoiceDeleted:     nop{},
		VoiceTransferred: nop{},
		PlatformErrors:   nop{},
		VoiceLatency:     nop{},
		ClearedCount:     nop{},
	}
}

type nop struct{}

func (nop) Observe(float64, ...string)       {}
func (nop) Describe(chan<- *prometheus.Desc) {}
func (nop) Collect(chan<- prometheus.Metric) {}
