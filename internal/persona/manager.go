package persona

import (
	"fmt"
	"sync"
	"time"
)

// Store defines the persistence operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SavePersona(p Persona) error
	GetPersona(id string) (Persona, error)
	ListPersonas() ([]Persona, error)
	DeletePersona(id string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by time.Now.
func RealClock() Clock { return realClock{} }

// Manager provides cached access to personas stored in SQLite. Every
// mutation is a single read-modify-write followed by a save; the manager
// never holds its lock across a generation call.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cacheEntry
}

type cacheEntry struct {
	p  Persona
	at time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cacheEntry),
	}
}

// Get returns the persona with the given id, from cache when fresh.
func (m *Manager) Get(id string) (Persona, error) {
	m.mu.RLock()
	if e, ok := m.cached[id]; ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		p := deepCopy(e.p)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cached[id]; ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		return deepCopy(e.p), nil
	}

	p, err := m.store.GetPersona(id)
	if err != nil {
		return Persona{}, fmt.Errorf("loading persona %s: %w", id, err)
	}
	m.cached[id] = cacheEntry{p: deepCopy(p), at: m.clock.Now()}
	return p, nil
}

// Save persists the persona and refreshes the cache entry.
func (m *Manager) Save(p Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SavePersona(p); err != nil {
		return fmt.Errorf("saving persona %s: %w", p.ID, err)
	}
	m.cached[p.ID] = cacheEntry{p: deepCopy(p), at: m.clock.Now()}
	return nil
}

// List returns all personas, bypassing the cache.
func (m *Manager) List() ([]Persona, error) {
	return m.store.ListPersonas()
}

// Delete removes the persona from storage and cache.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeletePersona(id); err != nil {
		return err
	}
	delete(m.cached, id)
	return nil
}

// SetWeights clamps and stores the influence weights for the persona.
func (m *Manager) SetWeights(id string, w Weights) (Persona, error) {
	p, err := m.Get(id)
	if err != nil {
		return Persona{}, err
	}
	p = SetWeights(p, w)
	if err := m.Save(p); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// deepCopy clones a persona so cached values can never be mutated through
// a returned reference.
func deepCopy(p Persona) Persona {
	cp := p

	if p.ShaperSources != nil {
		cp.ShaperSources = make([]Source, len(p.ShaperSources))
		copy(cp.ShaperSources, p.ShaperSources)
	}
	if p.Profile != nil {
		prof := *p.Profile
		prof.CoreTraits = copyStrings(p.Profile.CoreTraits)
		prof.ExpertiseAreas = copyStrings(p.Profile.ExpertiseAreas)
		prof.BehavioralPatterns = copyStrings(p.Profile.BehavioralPatterns)
		prof.ValueSystem = copyStrings(p.Profile.ValueSystem)
		cp.Profile = &prof
	}
	if p.Weights != nil {
		w := *p.Weights
		cp.Weights = &w
	}
	if p.LastCalibrated != nil {
		t := *p.LastCalibrated
		cp.LastCalibrated = &t
	}
	if p.Snapshots != nil {
		cp.Snapshots = make([]DocumentSnapshot, len(p.Snapshots))
		copy(cp.Snapshots, p.Snapshots)
		for i := range cp.Snapshots {
			cp.Snapshots[i].Changes = copyStrings(p.Snapshots[i].Changes)
		}
	}
	if p.Guidance != nil {
		cp.Guidance = make([]DevelopmentGuidance, len(p.Guidance))
		copy(cp.Guidance, p.Guidance)
	}
	if p.Chemistry != nil {
		chem := *p.Chemistry
		chem.Recommendations = copyStrings(p.Chemistry.Recommendations)
		chem.EvolutionHistory = copyStrings(p.Chemistry.EvolutionHistory)
		cp.Chemistry = &chem
	}
	return cp
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
