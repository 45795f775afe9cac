package agent

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// registryEntry records when an entity was created and its position in the
// global creation order. The sequence disambiguates reuses of the same name
// across rapid destroy/recreate cycles.
type registryEntry struct {
	Seq     uint64
	Created time.Time
}

// registry is a metadata store over the live entity tables, backed by a
// non-expiring cache instance. Keys are "<kind>/<name>".
type registry struct {
	cache *gocache.Cache
	seq   uint64
}

func newRegistry() *registry {
	return &registry{cache: gocache.New(gocache.NoExpiration, 10*time.Second)}
}

// record notes the creation of an entity and returns its creation sequence.
func (r *registry) record(kind, name string) uint64 {
	r.seq++
	r.cache.Set(kind+"/"+name, registryEntry{Seq: r.seq, Created: time.Now()}, gocache.NoExpiration)
	return r.seq
}

// forget removes an entity's metadata on destroy.
func (r *registry) forget(kind, name string) {
	r.cache.Delete(kind + "/" + name)
}

// lookup returns the creation metadata for a live entity.
func (r *registry) lookup(kind, name string) (registryEntry, bool) {
	v, ok := r.cache.Get(kind + "/" + name)
	if !ok {
		return registryEntry{}, false
	}
	return v.(registryEntry), true
}
