package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/north-cloud/listings/internal/control"
)

// DepthFunc reads the current queue depth.
type DepthFunc func(ctx context.Context) (*control.DepthReport, error)

// depthCollector reads queue depth at scrape time.
type depthCollector struct {
	read    DepthFunc
	timeout time.Duration

	streamLength  *prometheus.Desc
	streamPending *prometheus.Desc
	delayed       *prometheus.Desc
	paused        *prometheus.Desc
	groups        *prometheus.Desc
	candidates    *prometheus.Desc
	up            *prometheus.Desc
}

// RegisterDepth exports queue depth and database backlog gauges, read on every scrape.
func (p *Provider) RegisterDepth(read DepthFunc) error {
	return p.registry.Register(&depthCollector{
		read:          read,
		timeout:       5 * time.Second,
		streamLength:  prometheus.NewDesc(namespace+"_queue_length", "Tasks in the stage stream", []string{"stage"}, nil),
		streamPending: prometheus.NewDesc(namespace+"_queue_pending", "Delivered but unacknowledged tasks", []string{"stage"}, nil),
		delayed:       prometheus.NewDesc(namespace+"_queue_delayed", "Tasks waiting for a retry delay", []string{"stage"}, nil),
		paused:        prometheus.NewDesc(namespace+"_stage_paused", "1 when the stage is paused", []string{"stage"}, nil),
		groups:        prometheus.NewDesc(namespace+"_listing_groups", "Listing groups by status", []string{"status"}, nil),
		candidates:    prometheus.NewDesc(namespace+"_discovered_listings", "Discovered listings by status", []string{"status"}, nil),
		up:            prometheus.NewDesc(namespace+"_depth_up", "1 when queue depth could be read", nil, nil),
	})
}

func (c *depthCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.streamLength, c.streamPending, c.delayed, c.paused, c.groups, c.candidates, c.up} {
		ch <- d
	}
}

func (c *depthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	report, err := c.read(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	for _, s := range report.Stages {
		stage := string(s.Stage)
		ch <- prometheus.MustNewConstMetric(c.streamLength, prometheus.GaugeValue, float64(s.Length), stage)
		ch <- prometheus.MustNewConstMetric(c.streamPending, prometheus.GaugeValue, float64(s.Pending), stage)
		ch <- prometheus.MustNewConstMetric(c.delayed, prometheus.GaugeValue, float64(s.Delayed), stage)
		paused := 0.0
		if s.Paused {
			paused = 1
		}
		ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused, stage)
	}
	for status, n := range report.Groups {
		ch <- prometheus.MustNewConstMetric(c.groups, prometheus.GaugeValue, float64(n), string(status))
	}
	for status, n := range report.Candidates {
		ch <- prometheus.MustNewConstMetric(c.candidates, prometheus.GaugeValue, float64(n), string(status))
	}
}
