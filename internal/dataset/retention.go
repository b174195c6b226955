package dataset

import (
	"log"
	"sync"
	"time"
)

const sweepInterval = time.Hour

// RetentionConfig bounds how long completed runs are kept.
type RetentionConfig struct {
	RetentionDays int
}

// RetentionCleaner deletes runs older than the retention period, once
// at startup and then on an hourly sweep.
type RetentionCleaner struct {
	store *Store
	keep  time.Duration

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewRetentionCleaner starts the background sweep. A zero or negative
// retention disables cleanup and returns nil; conf defaults to 30 days
// when omitted.
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	if len(conf) > 0 {
		days = conf[0].RetentionDays
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store: store,
		keep:  time.Duration(days) * 24 * time.Hour,
		quit:  make(chan struct{}),
	}

	// Immediate sweep catches up after downtime.
	rc.sweep()

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rc.sweep()
			case <-rc.quit:
				return
			}
		}
	}()
	return rc
}

func (rc *RetentionCleaner) sweep() {
	deleted, err := rc.store.DeleteBefore(time.Now().Add(-rc.keep))
	if err != nil {
		log.Printf("dataset: retention sweep: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("dataset: retention sweep removed %d runs past %s", deleted, rc.keep)
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (rc *RetentionCleaner) Stop() {
	rc.once.Do(func() {
		close(rc.quit)
		rc.wg.Wait()
	})
}
