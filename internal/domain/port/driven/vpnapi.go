package driven

import (
	"context"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
)

// VPNAPI defines the driven port for the remote VPN API. Every method returns
// errors classifiable with model.KindOf.
type VPNAPI interface {
	// FetchClientCredentials returns the account entitlements of the
	// authenticated session.
	FetchClientCredentials(ctx context.Context) (*model.AccountInfo, error)

	// FetchServers downloads the logical server catalog selected by query.
	FetchServers(ctx context.Context, query model.ServerQuery) ([]model.Server, error)

	// FetchLoads downloads current load, score and status for every server.
	FetchLoads(ctx context.Context) ([]model.ServerLoad, error)

	// FetchStreamingServices downloads the streaming metadata snapshot.
	FetchStreamingServices(ctx context.Context) (*model.StreamingInfo, error)

	// FetchPartners downloads partner types and the servers they are reachable through.
	FetchPartners(ctx context.Context) ([]model.PartnerType, error)

	// RequestCertificate asks the server to certify the client's public key.
	RequestCertificate(ctx context.Context, req model.CertificateRequest) (*model.VPNCertificate, error)
}
