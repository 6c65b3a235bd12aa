// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/metrics"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
)

const probeKey = "health/probe"

// StorageCheck round-trips a probe value through backend and publishes
// the result as the backend health gauge.
func StorageCheck(name string, backend storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		res := CheckResult{Name: "storage:" + name, Status: StatusHealthy, Message: "read/write ok"}
		if err := probe(backend); err != nil {
			res.Status = StatusUnhealthy
			res.Message = "storage probe failed"
			res.Error = err.Error()
		}
		metrics.SetBackendHealth(name, res.Status == StatusHealthy)
		return res
	}
}

func probe(backend storage.Backend) error {
	want := []byte("ok")
	if err := backend.Put(probeKey, want, nil); err != nil {
		return err
	}
	got, err := backend.Get(probeKey)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("probe read back %q", got)
	}
	return backend.Delete(probeKey)
}

// KeyLister is the part of the key ring the key ring check reads.
type KeyLister interface {
	SecretKeys() ([]*keyring.KeyInfo, error)
}

// KeyRingCheck is degraded when no secret key is available, since nothing
// can then be signed or decrypted.
func KeyRingCheck(keys KeyLister) CheckFunc {
	return func(ctx context.Context) CheckResult {
		secret, err := keys.SecretKeys()
		if err != nil {
			return CheckResult{Name: "keyring", Status: StatusUnhealthy, Message: "cannot list keys", Error: err.Error()}
		}
		if len(secret) == 0 {
			return CheckResult{Name: "keyring", Status: StatusDegraded, Message: "no secret keys"}
		}
		return CheckResult{Name: "keyring", Status: StatusHealthy, Message: fmt.Sprintf("%d secret keys", len(secret))}
	}
}

// CacheStats is the part of the continuation cache the cache check reads.
type CacheStats interface {
	Len() int
	Cap() int
}

// ContinuationCheck is degraded once the cache is nine tenths full, as
// new pending requests then start evicting older ones.
func ContinuationCheck(cache CacheStats) CheckFunc {
	return func(ctx context.Context) CheckResult {
		n, size := cache.Len(), cache.Cap()
		res := CheckResult{
			Name:    "continuations",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d/%d pending", n, size),
		}
		if size > 0 && n*10 >= size*9 {
			res.Status = StatusDegraded
		}
		return res
	}
}
