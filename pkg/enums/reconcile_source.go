package enums

import "fmt"

// ReconcileSource records what triggered a settlement attempt.
type ReconcileSource string

const (
	ReconcileSourceWebhook ReconcileSource = "webhook"
	ReconcileSourceSweep   ReconcileSource = "sweep"
	ReconcileSourceManual  ReconcileSource = "manual"
	// ReconcileSourceIntent marks problems found while opening a charge.
	ReconcileSourceIntent  ReconcileSource = "intent"
)

var validReconcileSources = []ReconcileSource{
	ReconcileSourceWebhook,
	ReconcileSourceSweep,
	ReconcileSourceManual,
	ReconcileSourceIntent,
}

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
