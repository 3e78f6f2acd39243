package model

import "time"

// ServerFeature is a bitmask of capabilities advertised by a logical server.
type ServerFeature int

const (
	FeatureSecureCore ServerFeature = 1 << iota
	FeatureTor
	FeatureP2P
	FeatureStreaming
	FeatureIPv6
	FeaturePartner
)

// Has reports whether all bits of f are set.
func (sf ServerFeature) Has(f ServerFeature) bool {
	return sf&f == f
}

// ServerStatus is 1 when the server accepts connections and 0 in maintenance.
type ServerStatus int

const (
	ServerStatusMaintenance ServerStatus = 0
	ServerStatusOnline      ServerStatus = 1
)

// Server is a logical VPN server in the catalog.
type Server struct {
	ID           string
	Name         string
	EntryCountry string
	ExitCountry  string
	City         string
	Domain       string
	Tier         PlanTier
	Features     ServerFeature
	Load         int
	Score        float64
	Status       ServerStatus
	UpdatedAt    time.Time
}

// ServerLoad is the subset of server fields the loads endpoint refreshes.
type ServerLoad struct {
	ID     string
	Load   int
	Score  float64
	Status ServerStatus
}

// ServerQuery selects which part of the catalog to download. IncludePaid
// overrides Tier and requests every server regardless of the caller's plan.
type ServerQuery struct {
	Tier        PlanTier
	IncludePaid bool
}

// MaxTier returns the highest server tier the query covers.
func (q ServerQuery) MaxTier() PlanTier {
	if q.IncludePaid {
		return MaxTier
	}
	return q.Tier
}

// StreamingService is one streaming provider available in a country for a tier.
type StreamingService struct {
	Country string
	Tier    PlanTier
	Name    string
	Icon    string
}

// StreamingInfo is the streaming metadata snapshot. Icons are relative to
// ResourceBaseURL.
type StreamingInfo struct {
	ResourceBaseURL string
	Services        []StreamingService
}

// Partner is a third party whose service is reachable through specific servers.
type Partner struct {
	Name        string
	Description string
	IconURL     string
	LogicalIDs  []string
}

// PartnerType groups partners under a shared category.
type PartnerType struct {
	Type        string
	Description string
	IconURL     string
	Partners    []Partner
}

// PartnerLogicalIDs returns the set of server IDs referenced by any partner.
func PartnerLogicalIDs(types []PartnerType) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, pt := range types {
		for _, p := range pt.Partners {
			for _, id := range p.LogicalIDs {
				ids[id] = struct{}{}
			}
		}
	}
	return ids
}
