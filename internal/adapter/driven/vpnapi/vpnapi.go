package vpnapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VPNAPI = (*Client)(nil)

// Endpoint paths relative to the base URL.
const (
	accountPath     = "vpn/v2"
	logicalsPath    = "vpn/logicals"
	loadsPath       = "vpn/loads"
	streamingPath   = "vpn/streamingservices"
	partnersPath    = "vpn/v1/partners"
	certificatePath = "vpn/v1/certificate"
)

// delinquentThreshold is the lowest Delinquent value that blocks paid access.
const delinquentThreshold = 3

type accountResponse struct {
	VPN struct {
		Name       string `json:"Name"`
		PlanName   string `json:"PlanName"`
		MaxTier    int    `json:"MaxTier"`
		MaxConnect int    `json:"MaxConnect"`
	} `json:"VPN"`
	Subscribed int `json:"Subscribed"`
	Delinquent int `json:"Delinquent"`
}

// FetchClientCredentials returns the entitlements of the current session.
func (c *Client) FetchClientCredentials(ctx context.Context) (*model.AccountInfo, error) {
	var out accountResponse
	if err := c.Request(ctx, Route{Method: http.MethodGet, Path: accountPath}, &out); err != nil {
		return nil, fmt.Errorf("fetch client credentials: %w", err)
	}

	return &model.AccountInfo{
		Username:   out.VPN.Name,
		PlanTier:   model.PlanTier(out.VPN.MaxTier),
		PlanName:   out.VPN.PlanName,
		Subscribed: out.Subscribed != 0,
		Delinquent: out.Delinquent >= delinquentThreshold,
		MaxConnect: out.VPN.MaxConnect,
	}, nil
}

type logicalJSON struct {
	ID           string  `json:"ID"`
	Name         string  `json:"Name"`
	EntryCountry string  `json:"EntryCountry"`
	ExitCountry  string  `json:"ExitCountry"`
	City         string  `json:"City"`
	Domain       string  `json:"Domain"`
	Tier         int     `json:"Tier"`
	Features     int     `json:"Features"`
	Load         int     `json:"Load"`
	Score        float64 `json:"Score"`
	Status       int     `json:"Status"`
}

type logicalsResponse struct {
	LogicalServers []logicalJSON `json:"LogicalServers"`
}

// FetchServers downloads the catalog. Without IncludePaid the download is
// limited to servers the query tier can use.
func (c *Client) FetchServers(ctx context.Context, query model.ServerQuery) ([]model.Server, error) {
	route := Route{Method: http.MethodGet, Path: logicalsPath}
	if !query.IncludePaid {
		route.Query = map[string]string{"MaxTier": strconv.Itoa(int(query.Tier))}
	}

	var out logicalsResponse
	if err := c.Request(ctx, route, &out); err != nil {
		return nil, fmt.Errorf("fetch servers: %w", err)
	}

	servers := make([]model.Server, 0, len(out.LogicalServers))
	for _, l := range out.LogicalServers {
		servers = append(servers, model.Server{
			ID:           l.ID,
			Name:         l.Name,
			EntryCountry: l.EntryCountry,
			ExitCountry:  l.ExitCountry,
			City:         l.City,
			Domain:       l.Domain,
			Tier:         model.PlanTier(l.Tier),
			Features:     model.ServerFeature(l.Features),
			Load:         l.Load,
			Score:        l.Score,
			Status:       model.ServerStatus(l.Status),
		})
	}
	return servers, nil
}

// FetchLoads downloads load, score and status for every server.
func (c *Client) FetchLoads(ctx context.Context) ([]model.ServerLoad, error) {
	var out logicalsResponse
	if err := c.Request(ctx, Route{Method: http.MethodGet, Path: loadsPath}, &out); err != nil {
		return nil, fmt.Errorf("fetch loads: %w", err)
	}

	loads := make([]model.ServerLoad, 0, len(out.LogicalServers))
	for _, l := range out.LogicalServers {
		loads = append(loads, model.ServerLoad{
			ID:     l.ID,
			Load:   l.Load,
			Score:  l.Score,
			Status: model.ServerStatus(l.Status),
		})
	}
	return loads, nil
}

type streamingServiceJSON struct {
	Name string `json:"Name"`
	Icon string `json:"Icon"`
}

type streamingResponse struct {
	ResourceBaseURL   string                                       `json:"ResourceBaseURL"`
	StreamingServices map[string]map[string][]streamingServiceJSON `json:"StreamingServices"`
}

// FetchStreamingServices downloads the streaming snapshot, keyed by country
// and tier on the wire and flattened here.
func (c *Client) FetchStreamingServices(ctx context.Context) (*model.StreamingInfo, error) {
	var out streamingResponse
	if err := c.Request(ctx, Route{Method: http.MethodGet, Path: streamingPath}, &out); err != nil {
		return nil, fmt.Errorf("fetch streaming services: %w", err)
	}

	info := &model.StreamingInfo{ResourceBaseURL: out.ResourceBaseURL}
	for country, byTier := range out.StreamingServices {
		for tierKey, services := range byTier {
			tier, err := strconv.Atoi(tierKey)
			if err != nil {
				c.logger.Warn("skipping streaming services with invalid tier", "country", country, "tier", tierKey)
				continue
			}
			for _, svc := range services {
				info.Services = append(info.Services, model.StreamingService{
					Country: country,
					Tier:    model.PlanTier(tier),
					Name:    svc.Name,
					Icon:    svc.Icon,
				})
			}
		}
	}

	sort.Slice(info.Services, func(i, j int) bool {
		a, b := info.Services[i], info.Services[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.Name < b.Name
	})

	return info, nil
}

type partnerJSON struct {
	Name        string   `json:"Name"`
	Description string   `json:"Description"`
	IconURL     string   `json:"IconURL"`
	LogicalIDs  []string `json:"LogicalIDs"`
}

type partnerTypeJSON struct {
	Type        string        `json:"Type"`
	Description string        `json:"Description"`
	IconURL     string        `json:"IconURL"`
	Partners    []partnerJSON `json:"Partners"`
}

type partnersResponse struct {
	PartnerTypes []partnerTypeJSON `json:"PartnerTypes"`
}

// FetchPartners downloads partner types and their servers.
func (c *Client) FetchPartners(ctx context.Context) ([]model.PartnerType, error) {
	var out partnersResponse
	if err := c.Request(ctx, Route{Method: http.MethodGet, Path: partnersPath}, &out); err != nil {
		return nil, fmt.Errorf("fetch partners: %w", err)
	}

	types := make([]model.PartnerType, 0, len(out.PartnerTypes))
	for _, pt := range out.PartnerTypes {
		t := model.PartnerType{Type: pt.Type, Description: pt.Description, IconURL: pt.IconURL}
		for _, p := range pt.Partners {
			t.Partners = append(t.Partners, model.Partner(p))
		}
		types = append(types, t)
	}
	return types, nil
}

type certificateRequestJSON struct {
	ClientPublicKey     string         `json:"ClientPublicKey"`
	ClientPublicKeyMode string         `json:"ClientPublicKeyMode"`
	DeviceName          string         `json:"DeviceName"`
	Mode                string         `json:"Mode"`
	Duration            string         `json:"Duration,omitempty"`
	Features            map[string]any `json:"Features,omitempty"`
}

type certificateResponse struct {
	Certificate    string `json:"Certificate"`
	ExpirationTime int64  `json:"ExpirationTime"`
	RefreshTime    int64  `json:"RefreshTime"`
}

// RequestCertificate asks the server to certify the client public key.
func (c *Client) RequestCertificate(ctx context.Context, req model.CertificateRequest) (*model.VPNCertificate, error) {
	var out certificateResponse
	route := Route{
		Method: http.MethodPost,
		Path:   certificatePath,
		Body:   certificateRequestJSON(req),
	}
	if err := c.Request(ctx, route, &out); err != nil {
		return nil, fmt.Errorf("request certificate: %w", err)
	}

	return &model.VPNCertificate{
		Certificate: out.Certificate,
		ValidUntil:  time.Unix(out.ExpirationTime, 0).UTC(),
		RefreshTime: time.Unix(out.RefreshTime, 0).UTC(),
	}, nil
}
