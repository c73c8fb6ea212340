package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/auto-dns/docker-hosts-sync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Txn(ctx context.Context) clientv3.Txn
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Close() error
}

// EtcdMirror publishes committed snapshots into etcd using the SkyDNS key
// layout so a CoreDNS etcd plugin can serve the same names. Only keys owned by
// this host are ever modified or deleted.
type EtcdMirror struct {
	client   etcdClient
	cfg      *config.EtcdConfig
	hostname string
	logger   zerolog.Logger

	last   domain.Snapshot
	synced bool
}

func NewEtcdMirror(client etcdClient, cfg *config.EtcdConfig, hostname string, logger zerolog.Logger) *EtcdMirror {
	return &EtcdMirror{
		client:   client,
		cfg:      cfg,
		hostname: hostname,
		logger:   logger.With().Str("component", "etcd-mirror").Logger(),
	}
}

// Sync makes etcd match snap. It is a no-op when snap equals the last
// successfully mirrored snapshot.
func (em *EtcdMirror) Sync(ctx context.Context, snap domain.Snapshot) error {
	if em.synced && snap.Equal(em.last) {
		return nil
	}

	prefix := strings.TrimRight(em.cfg.PathPrefix, "/")
	err := em.LockTransaction(ctx, []string{prefix}, func() error {
		return em.apply(ctx, prefix, snap)
	})
	if err != nil {
		em.synced = false
		return err
	}

	em.last = snap
	em.synced = true
	return nil
}

func (em *EtcdMirror) apply(ctx context.Context, prefix string, snap domain.Snapshot) error {
	existing, err := em.list(ctx, prefix)
	if err != nil {
		return err
	}

	// Every existing index is occupied, including keys we cannot parse.
	used := map[string]map[int]struct{}{}
	owned := map[string][]storedRecord{}
	for _, sr := range existing {
		if used[sr.base] == nil {
			used[sr.base] = map[int]struct{}{}
		}
		used[sr.base][sr.index] = struct{}{}
		if !sr.valid || sr.record.OwnerHostname != em.hostname {
			continue
		}
		owned[sr.base] = append(owned[sr.base], sr)
	}

	keep := map[string]struct{}{}
	for _, entry := range snap.Entries() {
		base := keyBaseForFQDN(prefix, entry.Name)
		if used[base] == nil {
			used[base] = map[int]struct{}{}
		}
		for _, addr := range entry.Addresses {
			want := etcdRecord{Host: addr.String(), TTL: em.cfg.TTL, OwnerHostname: em.hostname}

			// Reuse one of our keys already holding this address; any
			// duplicates fall through to the delete pass below.
			sr, ok := lo.Find(owned[base], func(candidate storedRecord) bool {
				_, kept := keep[candidate.key]
				return !kept && candidate.record.Host == want.Host
			})
			if ok {
				keep[sr.key] = struct{}{}
				if sr.record == want {
					continue
				}
				if err := em.put(ctx, sr.key, want); err != nil {
					return err
				}
				continue
			}

			index := nextFreeIndex(used[base])
			used[base][index] = struct{}{}
			key := indexedKey(base, index)
			keep[key] = struct{}{}
			if err := em.put(ctx, key, want); err != nil {
				return err
			}
			em.logger.Info().Str("key", key).Str("name", entry.Name).Str("host", want.Host).Msg("Published record")
		}
	}

	for _, records := range owned {
		for _, sr := range records {
			if _, ok := keep[sr.key]; ok {
				continue
			}
			if _, err := em.client.Delete(ctx, sr.key); err != nil {
				return fmt.Errorf("delete %s: %w", sr.key, err)
			}
			em.logger.Info().Str("key", sr.key).Str("host", sr.record.Host).Msg("Removed stale record")
		}
	}
	return nil
}

func (em *EtcdMirror) put(ctx context.Context, key string, rec etcdRecord) error {
	value, err := marshalEtcdValue(rec)
	if err != nil {
		return err
	}
	if _, err := em.client.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// list returns every indexed key stored under prefix. Keys whose value cannot
// be decoded are returned with valid unset so their index stays reserved.
func (em *EtcdMirror) list(ctx context.Context, prefix string) ([]storedRecord, error) {
	resp, err := em.client.Get(ctx, prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	records := make([]storedRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		base, index, ok := splitIndexedKey(key)
		if !ok {
			continue
		}
		sr := storedRecord{key: key, base: base, index: index, valid: true}
		rec, err := unmarshalEtcdValue(kv.Value)
		if err != nil {
			em.logger.Warn().Err(err).Str("key", key).Msg("Could not parse key, leaving it in place")
			sr.valid = false
		} else {
			sr.record = rec
		}
		records = append(records, sr)
	}
	return records, nil
}

func nextFreeIndex(used map[int]struct{}) int {
	index := 1
	for {
		if _, exists := used[index]; !exists {
			return index
		}
		index++
	}
}

// LockTransaction provides a distributed lock using etcd transactions.
// It takes keys (as a slice of string), tries to acquire locks on all of them,
// runs the function, and finally releases all locks.
func (em *EtcdMirror) LockTransaction(ctx context.Context, keys []string, fn func() error) error {
	leases := make([]heldLease, 0, len(keys))
	defer func() {
		// Release the locks in reverse order.
		for i := len(leases) - 1; i >= 0; i-- {
			em.release(leases[i])
		}
	}()

	for _, key := range keys {
		lockKey := fmt.Sprintf("/locks%s", key)
		leaseResp, err := em.client.Grant(ctx, int64(em.cfg.LockTTL/time.Second))
		if err != nil {
			return fmt.Errorf("failed to create lease: %w", err)
		}

		acquired, err := em.acquire(ctx, lockKey, leaseResp.ID)
		if err != nil || !acquired {
			if _, errRevoke := em.client.Revoke(ctx, leaseResp.ID); errRevoke != nil {
				em.logger.Warn().Err(errRevoke).Msgf("failed to revoke lease for %s", lockKey)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("failed to acquire lock on %s", key)
		}
		leases = append(leases, heldLease{lockKey: lockKey, lease: leaseResp.ID})
	}

	// Execute the provided function with locks held.
	return fn()
}

func (em *EtcdMirror) acquire(ctx context.Context, lockKey string, lease clientv3.LeaseID) (bool, error) {
	deadline := time.Now().Add(em.cfg.LockTimeout)
	for {
		txnResp, err := em.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(lockKey), "=", 0)).
			Then(clientv3.OpPut(lockKey, em.hostname, clientv3.WithLease(lease))).
			Commit()
		if err != nil {
			return false, err
		}
		if txnResp.Succeeded {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		timer := time.NewTimer(em.cfg.LockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (em *EtcdMirror) release(l heldLease) {
	// The caller's context may already be cancelled; locks must still go.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := em.client.Delete(ctx, l.lockKey); err != nil {
		em.logger.Warn().Err(err).Msgf("failed to delete lock key %s", l.lockKey)
	}
	if _, err := em.client.Revoke(ctx, l.lease); err != nil {
		em.logger.Warn().Err(err).Msgf("failed to revoke lease for %s", l.lockKey)
	}
}

func (em *EtcdMirror) Close() error {
	return em.client.Close()
}
