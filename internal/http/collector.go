package http

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "foreignd"

// registryCollector exposes a registry snapshot as Prometheus gauges. One
// snapshot is taken per scrape.
type registryCollector struct {
	source  StateSource
	timeout time.Duration

	up        *prometheus.Desc
	exporters *prometheus.Desc
	importers *prometheus.Desc
	exported  *prometheus.Desc
	imported  *prometheus.Desc
	linked    *prometheus.Desc
	children  *prometheus.Desc
	perClient *prometheus.Desc
}

func newRegistryCollector(source StateSource, timeout time.Duration) *registryCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "registry", name), help, labels, nil)
	}
	return &registryCollector{
		source:    source,
		timeout:   timeout,
		up:        desc("up", "Whether the last snapshot succeeded and the registry is active"),
		exporters: desc("exporters", "Bound exporter endpoints"),
		importers: desc("importers", "Bound importer endpoints"),
		exported:  desc("exported", "Live exported windows"),
		imported:  desc("imported", "Live imported objects, linked or not"),
		linked:    desc("linked", "Imported objects linked to a live export"),
		children:  desc("children", "Windows parented through an import"),
		perClient: desc("client_exports", "Live exported windows per client", "client"),
	}
}

// Describe implements prometheus.Collector.
func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.up, c.exporters, c.importers, c.exported, c.imported, c.linked, c.children, c.perClient} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap, err := c.source.Snapshot(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}

	up := 0.0
	if snap.State == foreign.StateActive {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)

	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	gauge(c.exporters, snap.Exporters)
	gauge(c.importers, snap.Importers)
	gauge(c.exported, snap.Exported)
	gauge(c.imported, snap.Imported)
	gauge(c.linked, snap.Linked)
	gauge(c.children, snap.Children)

	perClient := make(map[string]int)
	for _, e := range snap.Exports {
		perClient[e.Client]++
	}
	for client, n := range perClient {
		ch <- prometheus.MustNewConstMetric(c.perClient, prometheus.GaugeValue, float64(n), client)
	}
}
