package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker is an optional named dependency probe (embedding provider, cache backend).
type Checker interface {
	HealthCheck(ctx context.Context) error
}
