package types

import "time"

// Fill is an immutable record of a partial or full execution. Fills are created
// once per execution event and never mutated. ExecID is assigned by the gateway
// and is the deduplication key for duplicate deliveries.
type Fill struct {
	ExecID     string    `yaml:"exec_id" json:"exec_id"`
	OrderID    string    `yaml:"order_id" json:"order_id"`
	Symbol     string    `yaml:"symbol" json:"symbol"`
	Side       Side      `yaml:"side" json:"side"`
	Quantity   float64   `yaml:"quantity" json:"quantity"`
	Price      float64   `yaml:"price" json:"price"`
	Commission float64   `yaml:"commission" json:"commission"`
	Time       time.Time `yaml:"time" json:"time"`
	// Simulated marks fills produced by the simulated gateway as opposed to
	// broker-confirmed executions.
	Simulated bool `yaml:"simulated" json:"simulated"`
}

// SignedQuantity returns the fill quantity with buy positive and sell negative.
func (f Fill) SignedQuantity() float64 {
	if f.Side == SideSell {
		return -f.Quantity
	}

	return f.Quantity
}
