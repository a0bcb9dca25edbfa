package adr

// LocalManager implements the Manager for devices served by a single
// gateway. The history is kept in-process, guarded by a per-device lock.
type LocalManager struct {
	tableManager
}

// NewLocalManager creates a new LocalManager. The radio state is updated
// directly with each new result.
func NewLocalManager(store *MemoryTableStore, radio RadioState, opts Options) *LocalManager {
	return &LocalManager{
		tableManager: tableManager{
			store: store,
			opts:  opts,
			radio: radio,
			name:  "local",
		},
	}
}
