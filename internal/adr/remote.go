package adr

// RemoteManager implements the Manager for devices served by multiple
// gateways, each attached to its own network server instance. The history is
// shared through the table store and every read-modify-write is guarded by a
// distributed lease. When the lease can not be acquired in time, the manager
// fails closed with ErrLockTimeout.
type RemoteManager struct {
	tableManager
}

// NewRemoteManager creates a new RemoteManager. The radio state is only
// updated after the table has been written to the store.
func NewRemoteManager(store *RedisTableStore, radio RadioState, opts Options) *RemoteManager {
	return &RemoteManager{
		tableManager: tableManager{
			store: store,
			opts:  opts,
			radio: radio,
			name:  "remote",
		},
	}
}
