// Package topology provides an optional dynamic domain-discovery backend,
// backed by etcd. The statically configured domain list is always
// authoritative and sufficient on its own; when an etcd endpoint is
// configured, a fleet of routers may additionally publish and discover
// domain→endpoint records here, so new domains can be provisioned without a
// config push to every router.
package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/opensrf-go/opensrf/errs"
)

const keyPrefix = "/opensrf/domains/"

// DomainRecord is what gets published for a domain.
type DomainRecord struct {
	Name string   `json:"name"`
	Host string   `json:"host"`
	Port int      `json:"port"`
}

// DomainRegistry publishes and discovers DomainRecords with a lease-backed
// TTL, so a router that disappears without cleanly deregistering still ages
// out of the topology.
type DomainRegistry struct {
	client *clientv3.Client
}

// Dial connects to one or more etcd endpoints.
func Dial(endpoints []string, dialTimeout time.Duration) (*DomainRegistry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errs.Wrapf(errs.ErrBus, "connecting to topology store: %v", err)
	}
	return &DomainRegistry{client: cli}, nil
}

// Close releases the etcd client.
func (d *DomainRegistry) Close() error { return d.client.Close() }

// Publish registers a domain record under a lease with the given TTL in
// seconds, and keeps it alive for the lifetime of ctx. The background
// keepalive drains its channel so etcd's internal goroutine never blocks.
func (d *DomainRegistry) Publish(ctx context.Context, rec DomainRecord, ttlSeconds int64) error {
	lease, err := d.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return errs.Wrapf(errs.ErrBus, "granting topology lease: %v", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Wrapf(errs.ErrJSON, "marshaling domain record: %v", err)
	}

	if _, err := d.client.Put(ctx, keyPrefix+rec.Name, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return errs.Wrapf(errs.ErrBus, "publishing domain record: %v", err)
	}

	keepAlive, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errs.Wrapf(errs.ErrBus, "starting lease keepalive: %v", err)
	}

	go func() {
		for range keepAlive {
			// Drain responses; etcd requires the channel be consumed or
			// the lease will not renew.
		}
	}()

	return nil
}

// Withdraw removes a domain's record immediately, ahead of its TTL.
func (d *DomainRegistry) Withdraw(ctx context.Context, name string) error {
	if _, err := d.client.Delete(ctx, keyPrefix+name); err != nil {
		return errs.Wrapf(errs.ErrBus, "withdrawing domain record: %v", err)
	}
	return nil
}

// Lookup finds a published record for name, if one exists and has not expired.
func (d *DomainRegistry) Lookup(ctx context.Context, name string) (DomainRecord, bool, error) {
	resp, err := d.client.Get(ctx, keyPrefix+name)
	if err != nil {
		return DomainRecord{}, false, errs.Wrapf(errs.ErrBus, "looking up domain record: %v", err)
	}
	if len(resp.Kvs) == 0 {
		return DomainRecord{}, false, nil
	}
	var rec DomainRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return DomainRecord{}, false, errs.Wrapf(errs.ErrJSON, "decoding domain record: %v", err)
	}
	return rec, true, nil
}

// Watch streams domain-record changes, re-fetching the full set on any
// event (adds, updates, and expirations all surface this way).
func (d *DomainRegistry) Watch(ctx context.Context) <-chan []DomainRecord {
	out := make(chan []DomainRecord)
	watchCh := d.client.Watch(ctx, keyPrefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for range watchCh {
			resp, err := d.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
			if err != nil {
				continue
			}
			recs := make([]DomainRecord, 0, len(resp.Kvs))
			for _, kv := range resp.Kvs {
				var rec DomainRecord
				if json.Unmarshal(kv.Value, &rec) == nil {
					recs = append(recs, rec)
				}
			}
			select {
			case out <- recs:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (r DomainRecord) String() string {
	return fmt.Sprintf("%s@%s:%d", r.Name, r.Host, r.Port)
}
