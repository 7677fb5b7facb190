package enums

import "fmt"

// WalletTransactionType classifies a wallet ledger row.
type WalletTransactionType string

const (
	WalletTxTopup      WalletTransactionType = "TOPUP"
	WalletTxCashback   WalletTransactionType = "CASHBACK"
	WalletTxPurchase   WalletTransactionType = "PURCHASE"
	WalletTxRefund     WalletTransactionType = "REFUND"
	WalletTxAdjustment WalletTransactionType = "ADJUSTMENT"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTxTopup,
	WalletTxCashback,
	WalletTxPurchase,
	WalletTxRefund,
	WalletTxAdjustment,
}

func (t WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}

// PointsTransactionType classifies a loyalty points ledger row.
type PointsTransactionType string

const (
	PointsTxEarn       PointsTransactionType = "EARN"
	PointsTxRedeem     PointsTransactionType = "REDEEM"
	PointsTxRefund     PointsTransactionType = "REFUND"
	PointsTxAdjustment PointsTransactionType = "ADJUSTMENT"
)

var validPointsTransactionTypes = []PointsTransactionType{
	PointsTxEarn,
	PointsTxRedeem,
	PointsTxRefund,
	PointsTxAdjustment,
}

func (t PointsTransactionType) IsValid() bool {
	for _, candidate := range validPointsTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParsePointsTransactionType converts raw input into a PointsTransactionType.
func ParsePointsTransactionType(value string) (PointsTransactionType, error) {
	for _, candidate := range validPointsTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid points transaction type %q", value)
}
