package enums

import "fmt"

// ReconcileSource records which entry point presented evidence for an order.
type ReconcileSource string

const (
	SourceClientVerified  ReconcileSource = "client_verified"
	SourceWebhookVerified ReconcileSource = "webhook_verified"
	SourceGatewayPolled   ReconcileSource = "gateway_polled"
)

var validReconcileSources = []ReconcileSource{
	SourceClientVerified,
	SourceWebhookVerified,
	SourceGatewayPolled,
}

// String implements fmt.Stringer.
func (s ReconcileSource) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconcileSource.
func (s ReconcileSource) IsValid() bool {
	for _, candidate := range validReconcileSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReconcileSource converts raw input into a ReconcileSource.
func ParseReconcileSource(value string) (ReconcileSource, error) {
	for _, candidate := range validReconcileSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconcile source %q", value)
}
