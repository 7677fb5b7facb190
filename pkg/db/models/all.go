package models

// All lists every model in dependency order, for AutoMigrate in tests.
func All() []any {
	return []any{
		&Product{},
		&Provider{},
		&ProviderAccount{},
		&Reseller{},
		&AppSetting{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&FulfillmentJob{},
		&StockItem{},
		&Wallet{},
		&WalletTransaction{},
		&PointsBalance{},
		&PointsTransaction{},
		&WebhookLog{},
		&PaymentEffect{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
