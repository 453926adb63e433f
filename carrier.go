package moneybox

import "go.opentelemetry.io/otel/propagation"

// headerCarrier adapts an event's header map to the OpenTelemetry
// TextMapCarrier interface, so the writer can inject the active trace
// context into the outbox row and consumers can continue the trace.
type headerCarrier struct {
	headers map[string]string
}

var _ propagation.TextMapCarrier = headerCarrier{}

func newHeaderCarrier(headers map[string]string) headerCarrier {
	return headerCarrier{headers: headers}
}

func (c headerCarrier) Get(key string) string {
	return c.headers[key]
}

func (c headerCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
