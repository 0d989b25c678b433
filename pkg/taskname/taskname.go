package taskname

const (
	QueueNotifications = "notifications"
	QueueAlerts        = "alerts"

	// Ledger notifications
	CashbackEarned   = "notification:cashback:earned"
	CashbackRedeemed = "notification:cashback:redeemed"
	BalanceAdjusted  = "notification:balance:adjusted"
	TierChanged      = "notification:tier:changed"

	// Reconciler alerts
	PurchaseUnsettled = "alert:purchase:unsettled"
)
