// Package tariff models a purchasable plan: a duration, a price, and an
// optional traffic ceiling.
package tariff

import "fmt"

// Tariff is a purchasable plan.
type Tariff struct {
	id             uint
	name           string
	durationSec    int64
	price          int64 // minor currency unit
	trafficLimitMB *int64
}

// New creates a new tariff. A nil trafficLimitMB means unlimited traffic.
func New(name string, durationSec, price int64, trafficLimitMB *int64) (*Tariff, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if durationSec <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	if price < 0 {
		return nil, fmt.Errorf("price cannot be negative")
	}
	if trafficLimitMB != nil && *trafficLimitMB <= 0 {
		return nil, fmt.Errorf("traffic limit must be positive when set")
	}
	return &Tariff{name: name, durationSec: durationSec, price: price, trafficLimitMB: trafficLimitMB}, nil
}

// Reconstruct rebuilds a Tariff from persistence.
func Reconstruct(id uint, name string, durationSec, price int64, trafficLimitMB *int64) (*Tariff, error) {
	if id == 0 {
		return nil, fmt.Errorf("tariff id cannot be zero")
	}
	return &Tariff{id: id, name: name, durationSec: durationSec, price: price, trafficLimitMB: trafficLimitMB}, nil
}

func (t *Tariff) ID() uint               { return t.id }
func (t *Tariff) Name() string           { return t.name }
func (t *Tariff) DurationSec() int64     { return t.durationSec }
func (t *Tariff) Price() int64           { return t.price }
func (t *Tariff) TrafficLimitMB() *int64 { return t.trafficLimitMB }

// TrafficLimitBytes converts the plan's MB ceiling to bytes, or nil if
// unlimited.
func (t *Tariff) TrafficLimitBytes() *int64 {
	if t.trafficLimitMB == nil {
		return nil
	}
	bytes := *t.trafficLimitMB * 1024 * 1024
	return &bytes
}
