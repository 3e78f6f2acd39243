package driven

import (
	"context"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// CatalogStore defines the driven port for the locally cached server catalog
// and the metadata refreshed alongside it.
type CatalogStore interface {
	// ReplaceServers upserts servers and removes cached servers with a tier at
	// or below maxTier that are absent from the new list. Servers above maxTier
	// were not part of the download and are kept.
	ReplaceServers(ctx context.Context, servers []model.Server, maxTier model.PlanTier) error

	// UpdateLoads applies load, score and status to known servers and returns
	// how many rows changed. Unknown IDs are ignored.
	UpdateLoads(ctx context.Context, loads []model.ServerLoad) (int, error)

	// ListServers returns every cached server ordered by name.
	ListServers(ctx context.Context) ([]model.Server, error)

	// SaveStreaming replaces the streaming snapshot.
	SaveStreaming(ctx context.Context, info model.StreamingInfo) error

	// GetStreaming returns the streaming snapshot, or nil if none is cached.
	GetStreaming(ctx context.Context) (*model.StreamingInfo, error)

	// SavePartners replaces the partner snapshot.
	SavePartners(ctx context.Context, types []model.PartnerType) error

	// GetPartners returns the cached partner types; empty when none are cached.
	GetPartners(ctx context.Context) ([]model.PartnerType, error)
}
