package worker

import "sync"

// The default pool lives at the outermost boundary only: the CLI
// composition root may share one pool across subcommands without
// threading it everywhere. Libraries receive explicit *Pool values.
var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// Default returns the process-wide pool, creating it from cfg on
// first use. Until ShutdownDefault is called every caller gets the
// same instance; the cfg of later calls is ignored.
func Default(cfg Config) (*Pool, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool != nil {
		return defaultPool, nil
	}
	p, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	defaultPool = p
	return p, nil
}

// ShutdownDefault terminates the default pool, if any. A subsequent
// Default call creates a fresh pool, possibly with a different size.
func ShutdownDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool != nil {
		defaultPool.Shutdown()
		defaultPool = nil
	}
}
