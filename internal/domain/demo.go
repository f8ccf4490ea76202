package domain

import "time"

// DemoType selects which simulated business process a session runs.
type DemoType string

const (
	DemoPayment   DemoType = "payment"
	DemoSales     DemoType = "sales"
	DemoLogistics DemoType = "logistics"
)

// DemoTypes lists every supported demo type.
var DemoTypes = []DemoType{DemoPayment, DemoSales, DemoLogistics}

// ParseDemoType validates a raw demo type tag.
func ParseDemoType(s string) (DemoType, error) {
	for _, d := range DemoTypes {
		if string(d) == s {
			return d, nil
		}
	}
	return "", ErrUnknownDemoType
}

// UpdateMessageType is the wire "type" of data events for this demo ("payment_update", ...).
func (d DemoType) UpdateMessageType() string {
	return string(d) + "_update"
}

// TickInterval is the default simulation cadence of the demo type.
func (d DemoType) TickInterval() time.Duration {
	switch d {
	case DemoPayment:
		return 2 * time.Second
	case DemoSales:
		return 3 * time.Second
	case DemoLogistics:
		return 5 * time.Second
	default:
		return 5 * time.Second
	}
}
