// Package store implements the Store.Record collaborator (spec.md §6) and
// the dead-letter queue over a sharded Postgres cluster, grounded on
// chinweokwu-MQueue's internal/store/pg_store.go and diq_store.go: fnv32a
// hash sharding, a per-shard health monitor goroutine, database/sql +
// lib/pq for the driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"feedrelay/internal/log"
)

// shardSet owns one *sql.DB per shard, keyed by endpoint rather than the
// teacher's namespace+topic, plus the same health-monitor loop.
type shardSet struct {
	dbs           []*sql.DB
	healthyMu     sync.RWMutex
	healthyShards []bool
	logger        *log.Logger
}

func newShardSet(dbURLs []string, logger *log.Logger) (*shardSet, error) {
	if len(dbURLs) == 0 {
		return nil, fmt.Errorf("store: at least one database URL is required")
	}
	dbs := make([]*sql.DB, 0, len(dbURLs))
	for _, url := range dbURLs {
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres %s: %w", url, err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		dbs = append(dbs, db)
	}
	s := &shardSet{dbs: dbs, healthyShards: make([]bool, len(dbs)), logger: logger}
	for i := range s.healthyShards {
		s.healthyShards[i] = true
	}
	return s, nil
}

// monitor pings every shard on an interval until ctx is cancelled.
func (s *shardSet) monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, db := range s.dbs {
				healthy := db.PingContext(ctx) == nil
				s.healthyMu.Lock()
				s.healthyShards[i] = healthy
				s.healthyMu.Unlock()
				if !healthy {
					s.logger.Warnw("postgres shard unhealthy", "shard", i)
				}
			}
		}
	}
}

// shardFor hashes endpoint (the delivery domain's sharding key, in place of
// the teacher's namespace+topic) to a shard index.
func (s *shardSet) shardFor(endpoint string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(endpoint))
	return int(h.Sum32() % uint32(len(s.dbs)))
}

func (s *shardSet) dbFor(endpoint string) (*sql.DB, error) {
	idx := s.shardFor(endpoint)
	s.healthyMu.RLock()
	healthy := s.healthyShards[idx]
	s.healthyMu.RUnlock()
	if !healthy {
		return nil, fmt.Errorf("store: shard %d for endpoint %s is unhealthy", idx, endpoint)
	}
	return s.dbs[idx], nil
}

func (s *shardSet) allDBs() []*sql.DB { return s.dbs }
