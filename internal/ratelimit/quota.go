package ratelimit

import (
	"fmt"
	"time"
)

// Class names a group of routes that share quotas.
type Class string

const (
	ClassContactForm    Class = "contact-form"
	ClassAnalytics      Class = "analytics-ingest"
	ClassErrorReport    Class = "error-report"
	ClassSessionCreate  Class = "session-create"
	ClassDemoDataFetch  Class = "demo-data-fetch"
	ClassConnectionOpen Class = "connection-open"
)

// Quota allows Limit requests per Window.
type Quota struct {
	Limit  int
	Window time.Duration
}

func PerMinute(n int) Quota { return Quota{Limit: n, Window: time.Minute} }
func PerHour(n int) Quota   { return Quota{Limit: n, Window: time.Hour} }

func (q Quota) String() string {
	return fmt.Sprintf("%d/%s", q.Limit, q.Window)
}

// Quotas maps each known route class to the quotas that must all pass.
type Quotas map[Class][]Quota

func DefaultQuotas() Quotas {
	return Quotas{
		ClassContactForm:    {PerMinute(1), PerHour(3)},
		ClassAnalytics:      {PerMinute(30)},
		ClassErrorReport:    {PerMinute(10)},
		ClassSessionCreate:  {PerMinute(10)},
		ClassDemoDataFetch:  {PerMinute(20)},
		ClassConnectionOpen: {PerMinute(30)},
	}
}

func (qs Quotas) validate() error {
	for class, quotas := range qs {
		if len(quotas) == 0 {
			return fmt.Errorf("route class %q has no quotas", class)
		}
		for _, q := range quotas {
			if q.Limit <= 0 || q.Window <= 0 {
				return fmt.Errorf("route class %q has invalid quota %s", class, q)
			}
		}
	}
	return nil
}

func longestWindow(quotas []Quota) time.Duration {
	var longest time.Duration
	for _, q := range quotas {
		longest = max(longest, q.Window)
	}
	return longest
}
