package domain

import "context"

// JobArchive persists terminal jobs outside the in-memory store.
type JobArchive interface {
	SaveTerminal(ctx context.Context, job JobRecord) error
}
