package wssengine

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metric instrument names.
const (
	metricOpenedConnectionsCounter = namespace + ".connections.opened"
	metricConnectingGauge          = namespace + ".connections.connecting"
	metricDeferredGauge            = namespace + ".connections.deferred"
	metricBytesInCounter           = namespace + ".bytes.in"
	metricBytesOutCounter          = namespace + ".bytes.out"
)

// Internal structure used to retain references to instruments that record engine metrics.
type websocketServerInstruments struct {
	// Counter that monitors the total number of accepted connections during the listener lifetime
	openedConnectionsCounter metric.Int64ObservableCounter
	// Gauge that monitors the number of source IPs with an unfinished handshake
	connectingGauge metric.Int64ObservableGauge
	// Gauge that monitors the number of sockets parked in the deferred queue
	deferredGauge metric.Int64ObservableGauge
	// Counter fed with the bytes received from peers
	bytesInCounter metric.Int64Counter
	// Counter fed with the bytes sent to peers
	bytesOutCounter metric.Int64Counter
}

// # Description
//
// Create the engine instruments on the provided meter. Observable instruments read their values
// straight from the listener state, byte counters are fed by the connections.
func newWebsocketServerInstruments(meter metric.Meter, listener *WebsocketServerListener) (*websocketServerInstruments, error) {
	// Counter which observes the total number of accepted connections
	openedConnectionsCounter, err := meter.Int64ObservableCounter(metricOpenedConnectionsCounter,
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(listener.openedConnectionsCount)
			return nil
		}))
	if err != nil {
		return nil, err
	}
	// Gauge which observes the number of occupied connecting slots
	connectingGauge, err := meter.Int64ObservableGauge(metricConnectingGauge,
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(int64(len(listener.connecting)))
			return nil
		}))
	if err != nil {
		return nil, err
	}
	// Gauge which observes the depth of the deferred queue
	deferredGauge, err := meter.Int64ObservableGauge(metricDeferredGauge,
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			io.Observe(int64(len(listener.deferred)))
			return nil
		}))
	if err != nil {
		return nil, err
	}
	// Byte counters fed by the connections
	bytesInCounter, err := meter.Int64Counter(metricBytesInCounter, metric.WithUnit("bytes"))
	if err != nil {
		return nil, err
	}
	bytesOutCounter, err := meter.Int64Counter(metricBytesOutCounter, metric.WithUnit("bytes"))
	if err != nil {
		return nil, err
	}
	return &websocketServerInstruments{
		openedConnectionsCounter: openedConnectionsCounter,
		connectingGauge:          connectingGauge,
		deferredGauge:            deferredGauge,
		bytesInCounter:           bytesInCounter,
		bytesOutCounter:          bytesOutCounter,
	}, nil
}
