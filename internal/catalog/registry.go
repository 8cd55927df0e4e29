// Package catalog implements the router's routing-metadata registry: which
// databases exist, which namespaces are sharded, which shard targets own
// them, and which target is the primary for post-merge work.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
)

// database tracks one database's routing metadata: the primary target and,
// per sharded collection, the owning targets.
type database struct {
	primary    cluster.ShardTarget
	hasPrimary bool
	sharded    map[string][]cluster.ShardTarget
}

// Registry is the authoritative source for routing decisions on the router.
//
// Concurrency model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned slices are copied to prevent races
//   - No locks held during external calls
type Registry struct {
	mu        sync.RWMutex
	databases map[string]*database
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{databases: make(map[string]*database)}
}

// AddDatabase registers a database and its primary target. Re-adding an
// existing database updates the primary.
func (r *Registry) AddDatabase(db string, primary cluster.ShardTarget) error {
	if db == "" {
		return errors.New("database name cannot be empty")
	}
	if primary.Addr == "" {
		return fmt.Errorf("database %q: primary target needs an address", db)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.databases[db]
	if d == nil {
		d = &database{sharded: make(map[string][]cluster.ShardTarget)}
		r.databases[db] = d
	}
	d.primary = primary
	d.hasPrimary = true
	return nil
}

// ShardCollection marks a collection as sharded across the given owners.
// The database must already exist.
func (r *Registry) ShardCollection(db, collection string, owners []cluster.ShardTarget) error {
	if collection == "" {
		return errors.New("collection name cannot be empty")
	}
	if len(owners) == 0 {
		return fmt.Errorf("collection %s.%s: cannot shard across zero targets", db, collection)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.databases[db]
	if d == nil {
		return fmt.Errorf("database %q is not registered", db)
	}
	d.sharded[collection] = append([]cluster.ShardTarget(nil), owners...)
	return nil
}

// AddOwner adds one target to a sharded collection's owner set, creating
// the collection entry when needed. Used by node registration.
func (r *Registry) AddOwner(ns string, target cluster.ShardTarget) error {
	db, coll, err := splitNamespace(ns)
	if err != nil {
		return err
	}
	if target.Addr == "" {
		return fmt.Errorf("namespace %s: target needs an address", ns)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.databases[db]
	if d == nil {
		d = &database{sharded: make(map[string][]cluster.ShardTarget)}
		r.databases[db] = d
	}
	for i, t := range d.sharded[coll] {
		if t.ShardID == target.ShardID {
			d.sharded[coll][i] = target
			return nil
		}
	}
	d.sharded[coll] = append(d.sharded[coll], target)
	return nil
}

// HasDatabase reports whether the database is registered.
func (r *Registry) HasDatabase(db string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.databases[db] != nil
}

// IsSharded reports whether the namespace is a sharded collection.
func (r *Registry) IsSharded(ns string) bool {
	db, coll, err := splitNamespace(ns)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d := r.databases[db]
	return d != nil && len(d.sharded[coll]) > 0
}

// Targets returns the shard targets owning data for the namespace that can
// match the given base query. The predicate hook exists for range-based
// pruning once chunk metadata carries key ranges; today every owner is a
// candidate regardless of the query.
func (r *Registry) Targets(ns string, _ document.Doc) []cluster.ShardTarget {
	db, coll, err := splitNamespace(ns)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d := r.databases[db]
	if d == nil {
		return nil
	}
	return append([]cluster.ShardTarget(nil), d.sharded[coll]...)
}

// Primary returns the database's primary target.
func (r *Registry) Primary(db string) (cluster.ShardTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := r.databases[db]
	if d == nil || !d.hasPrimary {
		return cluster.ShardTarget{}, false
	}
	return d.primary, true
}

// AllTargets returns every distinct target known to the registry, keyed by
// address. Used by the health monitor.
func (r *Registry) AllTargets() []cluster.ShardTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []cluster.ShardTarget
	for _, d := range r.databases {
		if d.hasPrimary && !seen[d.primary.Addr] {
			seen[d.primary.Addr] = true
			out = append(out, d.primary)
		}
		for _, owners := range d.sharded {
			for _, t := range owners {
				if !seen[t.Addr] {
					seen[t.Addr] = true
					out = append(out, t)
				}
			}
		}
	}
	return out
}

func splitNamespace(ns string) (db, coll string, err error) {
	i := strings.Index(ns, ".")
	if i <= 0 || i == len(ns)-1 {
		return "", "", fmt.Errorf("invalid namespace %q", ns)
	}
	return ns[:i], ns[i+1:], nil
}
