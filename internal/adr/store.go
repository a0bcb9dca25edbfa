package adr

import (
	"context"
	"sync"

	"github.com/brocaar/lorawan"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/storage"
)

// TableStore persists the ADR tables. Get returns nil when there is no
// (valid) table for the device.
type TableStore interface {
	Get(ctx context.Context, devEUI lorawan.EUI64) (*Table, error)
	Save(ctx context.Context, t *Table) error
	Delete(ctx context.Context, devEUI lorawan.EUI64) error
	Lock(ctx context.Context, devEUI lorawan.EUI64) (storage.Lease, error)
}

// MemoryTableStore implements an in-process TableStore.
type MemoryTableStore struct {
	mu     sync.Mutex
	tables map[lorawan.EUI64]*Table
	locker *storage.LocalLocker
}

// NewMemoryTableStore creates a new MemoryTableStore.
func NewMemoryTableStore() *MemoryTableStore {
	return &MemoryTableStore{
		tables: make(map[lorawan.EUI64]*Table),
		locker: storage.NewLocalLocker(),
	}
}

// Get returns a copy of the table of the device.
func (s *MemoryTableStore) Get(ctx context.Context, devEUI lorawan.EUI64) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[devEUI]
	if !ok {
		return nil, nil
	}
	return t.Copy(), nil
}

// Save stores a copy of the table.
func (s *MemoryTableStore) Save(ctx context.Context, t *Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[t.DevEUI] = t.Copy()
	return nil
}

// Delete removes the table of the device.
func (s *MemoryTableStore) Delete(ctx context.Context, devEUI lorawan.EUI64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tables, devEUI)
	return nil
}

// Lock acquires the device lock.
func (s *MemoryTableStore) Lock(ctx context.Context, devEUI lorawan.EUI64) (storage.Lease, error) {
	return s.locker.Lock(ctx, devEUI.String())
}

// RedisTableStore implements a TableStore shared by all instances.
type RedisTableStore struct {
	client redis.UniversalClient
	locker storage.Locker
}

// NewRedisTableStore creates a new RedisTableStore.
func NewRedisTableStore(client redis.UniversalClient, locker storage.Locker) *RedisTableStore {
	return &RedisTableStore{
		client: client,
		locker: locker,
	}
}

// Get returns the table of the device. A malformed table is handled as no
// table.
func (s *RedisTableStore) Get(ctx context.Context, devEUI lorawan.EUI64) (*Table, error) {
	var t Table
	err := storage.GetJSON(ctx, s.client, storage.ADRTableKey(devEUI), &t)
	if err != nil {
		switch errors.Cause(err) {
		case storage.ErrDoesNotExist:
			return nil, nil
		case storage.ErrInvalidValue:
			log.WithField("dev_eui", devEUI).Warning("adr: invalid adr table, ignoring")
			return nil, nil
		default:
			return nil, err
		}
	}
	return &t, nil
}

// Save stores the table.
func (s *RedisTableStore) Save(ctx context.Context, t *Table) error {
	return storage.SetJSON(ctx, s.client, storage.ADRTableKey(t.DevEUI), t, 0)
}

// Delete removes the table of the device.
func (s *RedisTableStore) Delete(ctx context.Context, devEUI lorawan.EUI64) error {
	if err := s.client.Del(ctx, storage.ADRTableKey(devEUI)).Err(); err != nil {
		return errors.Wrap(err, "delete error")
	}
	return nil
}

// Lock acquires the distributed lease of the table.
func (s *RedisTableStore) Lock(ctx context.Context, devEUI lorawan.EUI64) (storage.Lease, error) {
	return s.locker.Lock(ctx, storage.ADRLockKey(devEUI))
}
