package repository

import (
	"context"

	"app-build-queue/internal/domain/model"
)

// ArchiveRepository writes terminal build records to durable storage,
// once per job at ready/failed.
type ArchiveRepository interface {
	SaveTerminal(ctx context.Context, rec *model.BuildRecord) error
}
