package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ericfisherdev/vpnsync/internal/domain/model"
	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// --- Mock implementations ---

type memStorage struct {
	mu     sync.Mutex
	items  map[string][]byte
	setErr error
}

func newMemStorage() *memStorage {
	return &memStorage{items: make(map[string][]byte)}
}

func (m *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok, nil
}

func (m *memStorage) failWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

type mockAPI struct {
	fetchAccount   func(ctx context.Context) (*model.AccountInfo, error)
	fetchServers   func(ctx context.Context, q model.ServerQuery) ([]model.Server, error)
	fetchLoads     func(ctx context.Context) ([]model.ServerLoad, error)
	fetchStreaming func(ctx context.Context) (*model.StreamingInfo, error)
	fetchPartners  func(ctx context.Context) ([]model.PartnerType, error)
	requestCert    func(ctx context.Context, req model.CertificateRequest) (*model.VPNCertificate, error)

	mu      sync.Mutex
	queries []model.ServerQuery
	calls   map[string]int
}

func (m *mockAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

func (m *mockAPI) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockAPI) FetchClientCredentials(ctx context.Context) (*model.AccountInfo, error) {
	m.record("account")
	if m.fetchAccount == nil {
		return &model.AccountInfo{PlanTier: model.TierPlus, Subscribed: true}, nil
	}
	return m.fetchAccount(ctx)
}

func (m *mockAPI) FetchServers(ctx context.Context, q model.ServerQuery) ([]model.Server, error) {
	m.record("servers")
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.fetchServers == nil {
		return nil, nil
	}
	return m.fetchServers(ctx, q)
}

func (m *mockAPI) FetchLoads(ctx context.Context) ([]model.ServerLoad, error) {
	m.record("loads")
	if m.fetchLoads == nil {
		return nil, nil
	}
	return m.fetchLoads(ctx)
}

func (m *mockAPI) FetchStreamingServices(ctx context.Context) (*model.StreamingInfo, error) {
	m.record("streaming")
	if m.fetchStreaming == nil {
		return &model.StreamingInfo{}, nil
	}
	return m.fetchStreaming(ctx)
}

func (m *mockAPI) FetchPartners(ctx context.Context) ([]model.PartnerType, error) {
	m.record("partners")
	if m.fetchPartners == nil {
		return nil, nil
	}
	return m.fetchPartners(ctx)
}

func (m *mockAPI) RequestCertificate(ctx context.Context, req model.CertificateRequest) (*model.VPNCertificate, error) {
	m.record("certificate")
	if m.requestCert == nil {
		return nil, errors.New("no certificate handler")
	}
	return m.requestCert(ctx, req)
}

type mockCatalog struct {
	mu        sync.Mutex
	servers   []model.Server
	maxTiers  []model.PlanTier
	loads     int
	streaming *model.StreamingInfo
	partners  []model.PartnerType
	replaced  int
}

func (m *mockCatalog) ReplaceServers(_ context.Context, servers []model.Server, maxTier model.PlanTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = servers
	m.maxTiers = append(m.maxTiers, maxTier)
	m.replaced++
	return nil
}

func (m *mockCatalog) UpdateLoads(_ context.Context, loads []model.ServerLoad) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads += len(loads)
	return len(loads), nil
}

func (m *mockCatalog) ListServers(_ context.Context) ([]model.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers, nil
}

func (m *mockCatalog) SaveStreaming(_ context.Context, info model.StreamingInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaming = &info
	return nil
}

func (m *mockCatalog) GetStreaming(_ context.Context) (*model.StreamingInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming, nil
}

func (m *mockCatalog) SavePartners(_ context.Context, types []model.PartnerType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners = types
	return nil
}

func (m *mockCatalog) GetPartners(_ context.Context) ([]model.PartnerType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partners, nil
}

type recordingAlerts struct {
	mu          sync.Mutex
	fatal       []string
	planChanges []model.PlanChangeEvent
	delinquent  []model.DelinquencyEvent
	fatalCount  atomic.Int32
}

func (a *recordingAlerts) PresentFatalUpdateRequired(message string) {
	a.fatalCount.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fatal = append(a.fatal, message)
}

func (a *recordingAlerts) PresentPlanChanged(event model.PlanChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.planChanges = append(a.planChanges, event)
}

func (a *recordingAlerts) PresentDelinquent(event model.DelinquencyEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delinquent = append(a.delinquent, event)
}

func (a *recordingAlerts) planChangeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.planChanges)
}

func (a *recordingAlerts) delinquentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delinquent)
}

func boolPtr(b bool) *bool { return &b }

func authCredential(tier model.PlanTier) model.Credential {
	return model.Credential{
		SessionID:    "uid-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Scope:        "full self vpn",
		PlanTier:     tier,
		Username:     "alex",
		Subscribed:   boolPtr(true),
	}
}
