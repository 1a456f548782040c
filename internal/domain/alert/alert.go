package alert

import "context"

// Notifier sends operator-facing alerts. Implementations must not block the
// caller on delivery and never return errors: failures are logged, never
// propagated into the pipeline.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}
