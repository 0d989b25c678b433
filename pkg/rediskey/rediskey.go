package rediskey

import "fmt"

const (
	CheckoutSessionPrefix = "checkout:session"
	SequencePrefix        = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCheckoutSessionKey returns "checkout:session:{sessionID}"
func BuildCheckoutSessionKey(sessionID string) string {
	return NamespaceKey(CheckoutSessionPrefix, sessionID)
}

// BuildDailySequenceKey returns "seq:{prefix}:{tenantID}:{day}"
func BuildDailySequenceKey(prefix, tenantID, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s:%s", prefix, tenantID, day))
}
