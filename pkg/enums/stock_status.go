package enums

import "fmt"

// StockStatus is the state of one pre-provisioned secret.
type StockStatus string

const (
	StockStatusAvailable StockStatus = "AVAILABLE"
	StockStatusReserved  StockStatus = "RESERVED"
	StockStatusSold      StockStatus = "SOLD"
)

func (s StockStatus) IsValid() bool {
	switch s {
	case StockStatusAvailable, StockStatusReserved, StockStatusSold:
		return true
	}
	return false
}

// ParseStockStatus converts raw input into a StockStatus.
func ParseStockStatus(value string) (StockStatus, error) {
	s := StockStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid stock status %q", value)
	}
	return s, nil
}
