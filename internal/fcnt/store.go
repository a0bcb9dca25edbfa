package fcnt

import (
	"context"
	"sync"

	"github.com/brocaar/lorawan"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/storage"
)

// Store persists the frame-counter state. Get returns nil when there is no
// (valid) state for the device.
type Store interface {
	Get(ctx context.Context, devEUI lorawan.EUI64) (*State, error)
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context, devEUI lorawan.EUI64) error
	Lock(ctx context.Context, devEUI lorawan.EUI64) (storage.Lease, error)
}

// MemoryStore implements an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[lorawan.EUI64]State
	locker *storage.LocalLocker
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[lorawan.EUI64]State),
		locker: storage.NewLocalLocker(),
	}
}

// Get returns the state of the device.
func (m *MemoryStore) Get(ctx context.Context, devEUI lorawan.EUI64) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[devEUI]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Save stores the state.
func (m *MemoryStore) Save(ctx context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[s.DevEUI] = *s
	return nil
}

// Delete removes the state of the device.
func (m *MemoryStore) Delete(ctx context.Context, devEUI lorawan.EUI64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, devEUI)
	return nil
}

// Lock acquires the device lock.
func (m *MemoryStore) Lock(ctx context.Context, devEUI lorawan.EUI64) (storage.Lease, error) {
	return m.locker.Lock(ctx, devEUI.String())
}

// RedisStore implements a Store shared by all instances using Redis.
type RedisStore struct {
	client redis.UniversalClient
	locker storage.Locker
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client redis.UniversalClient, locker storage.Locker) *RedisStore {
	return &RedisStore{
		client: client,
		locker: locker,
	}
}

// Get returns the state of the device.
func (r *RedisStore) Get(ctx context.Context, devEUI lorawan.EUI64) (*State, error) {
	var s State
	err := storage.GetJSON(ctx, r.client, storage.FCntKey(devEUI), &s)
	if err != nil {
		switch errors.Cause(err) {
		case storage.ErrDoesNotExist:
			return nil, nil
		case storage.ErrInvalidValue:
			log.WithField("dev_eui", devEUI).Warning("fcnt: invalid frame-counter state, ignoring")
			return nil, nil
		default:
			return nil, err
		}
	}
	return &s, nil
}

// Save stores the state.
func (r *RedisStore) Save(ctx context.Context, s *State) error {
	return storage.SetJSON(ctx, r.client, storage.FCntKey(s.DevEUI), s, 0)
}

// Delete removes the state of the device.
func (r *RedisStore) Delete(ctx context.Context, devEUI lorawan.EUI64) error {
	if err := r.client.Del(ctx, storage.FCntKey(devEUI)).Err(); err != nil {
		return errors.Wrap(err, "delete error")
	}
	return nil
}

// Lock acquires the distributed device lock.
func (r *RedisStore) Lock(ctx context.Context, devEUI lorawan.EUI64) (storage.Lease, error) {
	return r.locker.Lock(ctx, storage.FCntLockKey(devEUI))
}
