package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
}

// Instrument names. Counters are grouped per area of the identity model and
// told apart by the "operation" attribute.
const (
	operationsPrefix = "identity."
	operationsSuffix = ".operations"
	latencyBuckets   = "identity.command.latency.buckets"
	latencyCount     = "identity.command.count"
	auditDropped     = "identity.audit.dropped"

	attrOperation = "operation"
	attrLe        = "le"
)

// areaCounter observes every engine counter of one area.
type areaCounter struct {
	instrument metric.Int64ObservableCounter
	ops        []operation
}

type operation struct {
	id    goIdentity.MetricID
	attrs metric.ObserveOption
}

// OTelExporter mirrors engine counters onto OTel observable instruments.
// Each collection reads one snapshot and reports:
//
//   - identity.<area>.operations{operation=...} per counter area
//   - identity.command.latency.buckets{le=...}, cumulative
//   - identity.command.count
//   - identity.audit.dropped
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	areas        []areaCounter
	buckets      metric.Int64ObservableGauge
	bucketAttrs  []metric.ObserveOption
	count        metric.Int64ObservableCounter
	dropped      metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read engine.
func NewOTelExporter(meter metric.Meter, engine *goIdentity.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	x := &OTelExporter{source: source}
	var observables []metric.Observable

	byArea := map[internaldefs.Area][]operation{}
	for _, def := range internaldefs.CounterDefs {
		byArea[def.Area] = append(byArea[def.Area], operation{
			id:    def.ID,
			attrs: metric.WithAttributes(attribute.String(attrOperation, def.Operation())),
		})
	}
	for _, area := range internaldefs.Areas {
		name := operationsPrefix + string(area) + operationsSuffix
		ins, err := meter.Int64ObservableCounter(name,
			metric.WithDescription(fmt.Sprintf("Identity %s operations by outcome.", area)),
			metric.WithUnit("{operation}"))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		x.areas = append(x.areas, areaCounter{instrument: ins, ops: byArea[area]})
		observables = append(observables, ins)
	}

	var err error
	x.buckets, err = meter.Int64ObservableGauge(latencyBuckets,
		metric.WithDescription("Commands completed within each latency bound, cumulative."),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", latencyBuckets, err)
	}
	for _, le := range internaldefs.HistogramBounds {
		x.bucketAttrs = append(x.bucketAttrs, metric.WithAttributes(attribute.String(attrLe, le)))
	}
	x.count, err = meter.Int64ObservableCounter(latencyCount,
		metric.WithDescription("Commands observed by the latency histogram."),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", latencyCount, err)
	}
	x.dropped, err = meter.Int64ObservableCounter(auditDropped,
		metric.WithDescription("Audit events lost to a full trail buffer."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", auditDropped, err)
	}
	observables = append(observables, x.buckets, x.count, x.dropped)

	x.registration, err = meter.RegisterCallback(x.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return x, nil
}

func (x *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := x.source.MetricsSnapshot()
	for _, area := range x.areas {
		for _, op := range area.ops {
			o.ObserveInt64(area.instrument, int64(snap.Counters[op.id]), op.attrs)
		}
	}

	if raw, ok := snap.Histograms[goIdentity.MetricCommandLatency]; ok {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, n := range cumulative {
			o.ObserveInt64(x.buckets, int64(n), x.bucketAttrs[i])
		}
		o.ObserveInt64(x.count, int64(cumulative[len(cumulative)-1]))
	}

	o.ObserveInt64(x.dropped, int64(x.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback. It is safe on a nil exporter.
func (x *OTelExporter) Close() error {
	if x == nil || x.registration == nil {
		return nil
	}
	return x.registration.Unregister()
}
