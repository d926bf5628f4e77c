package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/mrdisc/pkg/mrd"
)

// mrdCollector implements prometheus.Collector, reading socket counters
// on each scrape.
type mrdCollector struct {
	srv *Server

	messagesSent     *prometheus.Desc
	messagesReceived *prometheus.Desc
	solicitsReceived *prometheus.Desc
	errorsTotal      *prometheus.Desc
	lastSend         *prometheus.Desc
	interfaces       *prometheus.Desc
	interval         *prometheus.Desc
}

func newCollector(srv *Server) *mrdCollector {
	return &mrdCollector{
		srv: srv,

		messagesSent: prometheus.NewDesc(
			"mrdisc_messages_sent_total",
			"Total MRD messages sent.",
			[]string{"interface", "family", "type"}, nil,
		),
		messagesReceived: prometheus.NewDesc(
			"mrdisc_messages_received_total",
			"Total MRD messages received.",
			[]string{"interface", "family", "type"}, nil,
		),
		solicitsReceived: prometheus.NewDesc(
			"mrdisc_solicits_received_total",
			"Total MRD solicitations received.",
			[]string{"interface", "family"}, nil,
		),
		errorsTotal: prometheus.NewDesc(
			"mrdisc_errors_total",
			"Total socket send and receive failures.",
			[]string{"interface", "family", "op"}, nil,
		),
		lastSend: prometheus.NewDesc(
			"mrdisc_last_send_timestamp_seconds",
			"Unix time of the last successful send.",
			[]string{"interface", "family"}, nil,
		),
		interfaces: prometheus.NewDesc(
			"mrdisc_interfaces",
			"Number of open MRD sockets.",
			[]string{"family"}, nil,
		),
		interval: prometheus.NewDesc(
			"mrdisc_announce_interval_seconds",
			"Configured announce interval.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *mrdCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messagesSent
	ch <- c.messagesReceived
	ch <- c.solicitsReceived
	ch <- c.errorsTotal
	ch <- c.lastSend
	ch <- c.interfaces
	ch <- c.interval
}

// Collect implements prometheus.Collector.
func (c *mrdCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.interval, prometheus.GaugeValue, float64(c.srv.interval))

	perFamily := map[mrd.Family]int{mrd.IPv4: 0, mrd.IPv6: 0}
	for _, conn := range c.srv.conns() {
		name, fam := conn.Name(), conn.Family().String()
		perFamily[conn.Family()]++

		st := conn.Stats()
		for _, t := range []mrd.Type{mrd.Announce, mrd.Solicit, mrd.Terminate} {
			ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue,
				float64(st.Sent[t]), name, fam, t.String())
			ch <- prometheus.MustNewConstMetric(c.messagesReceived, prometheus.CounterValue,
				float64(st.Received[t]), name, fam, t.String())
		}
		ch <- prometheus.MustNewConstMetric(c.solicitsReceived, prometheus.CounterValue,
			float64(st.Received[mrd.Solicit]), name, fam)
		ch <- prometheus.MustNewConstMetric(c.errorsTotal, prometheus.CounterValue,
			float64(st.SendErrors), name, fam, "send")
		ch <- prometheus.MustNewConstMetric(c.errorsTotal, prometheus.CounterValue,
			float64(st.RecvErrors), name, fam, "receive")
		if !st.LastSend.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastSend, prometheus.GaugeValue,
				float64(st.LastSend.UnixNano())/1e9, name, fam)
		}
	}

	for _, f := range []mrd.Family{mrd.IPv4, mrd.IPv6} {
		ch <- prometheus.MustNewConstMetric(c.interfaces, prometheus.GaugeValue,
			float64(perFamily[f]), f.String())
	}
}
