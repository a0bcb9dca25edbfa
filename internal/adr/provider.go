package adr

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/facade"
	"github.com/loraedge/edge-network-server/internal/fcnt"
)

// Multi-gateway backends.
const (
	BackendLocal  = ""
	BackendRedis  = "redis"
	BackendFacade = "facade"
)

// ProviderOptions holds the Provider dependencies. Only the dependencies of
// the configured backend need to be set.
type ProviderOptions struct {
	Options

	// Backend selects the manager for devices which are not pinned to a
	// single gateway.
	Backend string

	// LocalCoordinator serves the locally handled devices.
	LocalCoordinator *fcnt.Coordinator

	// RemoteCoordinator and RedisStore are shared by all instances.
	RemoteCoordinator *fcnt.Coordinator
	RedisStore        *RedisTableStore

	FacadeClient facade.Client
}

// Provider selects the Manager for a device.
type Provider struct {
	opts       ProviderOptions
	localStore *MemoryTableStore
}

// NewProvider creates a new Provider.
func NewProvider(opts ProviderOptions) (*Provider, error) {
	switch opts.Backend {
	case BackendLocal:
	case BackendRedis:
		if opts.RedisStore == nil || opts.RemoteCoordinator == nil {
			return nil, errors.New("redis adr backend requires a redis table store and coordinator")
		}
	case BackendFacade:
		if opts.FacadeClient == nil {
			return nil, errors.New("facade adr backend requires a facade client")
		}
	default:
		return nil, errors.Errorf("unknown adr backend: %s", opts.Backend)
	}

	log.WithField("backend", opts.Backend).Info("adr: configuring adr provider")

	return &Provider{
		opts:       opts,
		localStore: NewMemoryTableStore(),
	}, nil
}

// ForDevice returns the Manager for the given device. Devices pinned to a
// single gateway, whichever gateway that is, are handled locally. So are all
// devices when no multi-gateway backend is configured.
func (p *Provider) ForDevice(d Device) Manager {
	opts := p.opts.Options

	switch {
	case p.isLocal(d):
		opts.Coordinator = p.opts.LocalCoordinator
		return NewLocalManager(p.localStore, d, opts)
	case p.opts.Backend == BackendFacade:
		return NewFacadeManager(p.opts.FacadeClient, d)
	default:
		opts.Coordinator = p.opts.RemoteCoordinator
		return NewRemoteManager(p.opts.RedisStore, d, opts)
	}
}

// Coordinator returns the frame-counter coordinator responsible for the
// device. It returns nil when the facade coordinates the frame-counters.
func (p *Provider) Coordinator(d Device) *fcnt.Coordinator {
	switch {
	case p.isLocal(d):
		return p.opts.LocalCoordinator
	case p.opts.Backend == BackendFacade:
		return nil
	default:
		return p.opts.RemoteCoordinator
	}
}

func (p *Provider) isLocal(d Device) bool {
	return d.PinnedGatewayID() != "" || p.opts.Backend == BackendLocal
}
