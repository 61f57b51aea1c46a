// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exporter

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/gpuinfo/pkg/gpuinfo"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

const namespace = "gpuinfo"

// Source is the part of the library a scrape reads.
type Source interface {
	Census() (gpuinfo.Census, error)
	All() ([]*model.Record, error)
}

// Metrics holds the collector and the exporter's own metrics on a private
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	ScrapeDuration    prometheus.Histogram
	ScrapeErrors      prometheus.Counter
	Reinitializations *prometheus.CounterVec
}

// NewMetrics registers a collector over src and the self-monitoring metrics.
func NewMetrics(src Source, logger *slog.Logger) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Duration of GPU queries per scrape in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		ScrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_errors_total",
			Help:      "Total number of scrapes where the library returned an error.",
		}),
		Reinitializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinitializations_total",
			Help:      "Total number of library reinitializations.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		NewCollector(src, m, logger),
		m.ScrapeDuration,
		m.ScrapeErrors,
		m.Reinitializations,
	)
	return m
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src     Source
	metrics *Metrics
	logger  *slog.Logger

	devices   *prometheus.Desc
	backendUp *prometheus.Desc
	info      *prometheus.Desc

	memTotal   *prometheus.Desc
	memUsed    *prometheus.Desc
	memFree    *prometheus.Desc
	gpuUtil    *prometheus.Desc
	memUtil    *prometheus.Desc
	temp       *prometheus.Desc
	power      *prometheus.Desc
	coreClock  *prometheus.Desc
	memClock   *prometheus.Desc
	fanPercent *prometheus.Desc
}

var deviceLabels = []string{"index", "vendor", "uuid"}

// NewCollector returns a collector over src. metrics may be nil.
func NewCollector(src Source, metrics *Metrics, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:     src,
		metrics: metrics,
		logger:  logger,

		devices:   desc("devices", "Number of GPUs reported by each vendor backend.", []string{"vendor"}),
		backendUp: desc("backend_up", "Whether the vendor backend has a working detection strategy.", []string{"vendor", "strategy"}),
		info: desc("device_info", "GPU identity, always 1.",
			[]string{"index", "vendor", "uuid", "name", "pci_bus_id", "source"}),

		memTotal:   desc("memory_total_bytes", "Total device memory in bytes.", deviceLabels),
		memUsed:    desc("memory_used_bytes", "Used device memory in bytes.", deviceLabels),
		memFree:    desc("memory_free_bytes", "Free device memory in bytes.", deviceLabels),
		gpuUtil:    desc("utilization_percent", "GPU core utilization percent.", deviceLabels),
		memUtil:    desc("memory_utilization_percent", "Memory utilization percent.", deviceLabels),
		temp:       desc("temperature_celsius", "GPU temperature in degrees Celsius.", deviceLabels),
		power:      desc("power_watts", "GPU power draw in watts.", deviceLabels),
		coreClock:  desc("core_clock_hertz", "Current graphics clock in hertz.", deviceLabels),
		memClock:   desc("memory_clock_hertz", "Current memory clock in hertz.", deviceLabels),
		fanPercent: desc("fan_speed_percent", "Fan speed percent.", deviceLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.devices, c.backendUp, c.info,
		c.memTotal, c.memUsed, c.memFree, c.gpuUtil, c.memUtil,
		c.temp, c.power, c.coreClock, c.memClock, c.fanPercent,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ScrapeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	census, err := c.src.Census()
	if err != nil {
		c.scrapeFailed("census", err)
		return
	}
	for _, v := range census.Vendors {
		vendor := v.Vendor.String()
		ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(v.Count), vendor)
		up := 0.0
		if v.Err == nil && v.Strategy != "" {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.backendUp, prometheus.GaugeValue, up, vendor, v.Strategy)
	}

	records, err := c.src.All()
	if err != nil {
		c.scrapeFailed("all", err)
		return
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		c.collectRecord(ch, rec)
	}
}

func (c *Collector) collectRecord(ch chan<- prometheus.Metric, rec *model.Record) {
	index := strconv.Itoa(rec.Index)
	vendor := rec.Vendor.String()

	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		index, vendor, rec.UUID, rec.Name, rec.PCIBusID, string(rec.Source))

	// Placeholder records carry no telemetry.
	if rec.IsPlaceholder() {
		return
	}

	has := rec.Fields.Has
	gauge := func(d *prometheus.Desc, known bool, v float64) {
		if known {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, index, vendor, rec.UUID)
		}
	}
	const mib = 1 << 20
	const mhz = 1e6

	// Free and memory utilization are derived from used/total when not read.
	usedKnown := has(model.FieldMemoryTotal) && has(model.FieldMemoryUsed)

	gauge(c.memTotal, has(model.FieldMemoryTotal), float64(rec.Memory.Total)*mib)
	gauge(c.memUsed, has(model.FieldMemoryUsed), float64(rec.Memory.Used)*mib)
	gauge(c.memFree, has(model.FieldMemoryFree) || usedKnown, float64(rec.Memory.Free)*mib)
	gauge(c.gpuUtil, has(model.FieldGPUUtilization), rec.GPUUtilization)
	gauge(c.memUtil, has(model.FieldMemoryUtilization) || usedKnown, rec.MemoryUtilization)
	gauge(c.temp, has(model.FieldTemperature), rec.TemperatureC)
	gauge(c.power, has(model.FieldPower), rec.PowerW)
	gauge(c.coreClock, has(model.FieldCoreClock), float64(rec.CoreClockMHz)*mhz)
	gauge(c.memClock, has(model.FieldMemoryClock), float64(rec.MemoryClockMHz)*mhz)
	gauge(c.fanPercent, has(model.FieldFanSpeed), rec.FanSpeedPercent)
}

func (c *Collector) scrapeFailed(op string, err error) {
	c.logger.Warn("SCRAPE_FAILED", "op", op, "error", err)
	if c.metrics != nil {
		c.metrics.ScrapeErrors.Inc()
	}
}
