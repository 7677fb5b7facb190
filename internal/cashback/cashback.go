// Package cashback computes reseller margins and loyalty points.
package cashback

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
)

var hundred = decimal.NewFromInt(100)

// Line is the part of an order item the margin depends on.
type Line struct {
	RetailPrice   int64
	ResellerPrice *int64
	Quantity      int
}

// LinesFromItems snapshots order items into Lines.
func LinesFromItems(items []models.OrderItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{
			RetailPrice:   item.RetailPrice,
			ResellerPrice: item.ResellerPrice,
			Quantity:      item.Quantity,
		})
	}
	return lines
}

// Margin is sum(max(retail - reseller, 0) * qty). Lines without a reseller price earn nothing.
func Margin(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if line.ResellerPrice == nil || line.Quantity <= 0 {
			continue
		}
		diff := line.RetailPrice - *line.ResellerPrice
		if diff <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(diff).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Calculate returns floor(margin * rate / 100). A non-positive rate yields 0.
func Calculate(lines []Line, ratePercent int) int64 {
	if ratePercent <= 0 {
		return 0
	}
	return percentOf(Margin(lines), ratePercent)
}

// PointsFor returns floor(total * percent / 100) points for a delivered order.
func PointsFor(total int64, percent int) int64 {
	if percent <= 0 || total <= 0 {
		return 0
	}
	return percentOf(decimal.NewFromInt(total), percent)
}

func percentOf(amount decimal.Decimal, percent int) int64 {
	return amount.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Floor().IntPart()
}
