package repository

import (
	"context"
	"sync"
	"time"
)

type leaseEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryLeaseRepository keeps leases in process. Only safe for a single replica.
type MemoryLeaseRepository struct {
	mu     sync.Mutex
	leases map[string]leaseEntry
	now    func() time.Time
}

func NewMemoryLeaseRepository() *MemoryLeaseRepository {
	return &MemoryLeaseRepository{
		leases: make(map[string]leaseEntry),
		now:    time.Now,
	}
}

func (r *MemoryLeaseRepository) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if entry, ok := r.leases[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}

	r.leases[key] = leaseEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryLeaseRepository) Release(ctx context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.leases[key]; ok && entry.owner == owner {
		delete(r.leases, key)
	}
	return nil
}
