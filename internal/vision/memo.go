package vision

// Per-invocation memo layers. Both are rebuilt at the start of every
// invocation so they never go stale, and they swallow accessor failures
// as "no value" rather than propagating them.

type overrideKey struct {
	observer string
	target   string
}

type overrideVal struct {
	state State
	ok    bool
}

// OverrideMemo memoizes the override resolver per directed pair for one
// invocation.
type OverrideMemo struct {
	resolve OverrideFunc
	seen    map[overrideKey]overrideVal
}

func NewOverrideMemo(resolve OverrideFunc) *OverrideMemo {
	return &OverrideMemo{
		resolve: resolve,
		seen:    make(map[overrideKey]overrideVal),
	}
}

// Get resolves the override for observer → target, computing at most once
// per invocation.
func (m *OverrideMemo) Get(observer, target string) (State, bool) {
	k := overrideKey{observer: observer, target: target}
	if v, ok := m.seen[k]; ok {
		return v.state, v.ok
	}
	var v overrideVal
	if m.resolve != nil {
		v.state, v.ok = m.resolve(observer, target)
	}
	m.seen[k] = v
	return v.state, v.ok
}

// VisibilityMapSnapshot memoizes each observer's stored visibility map for
// one invocation. The map is read once per observer and held for the whole
// invocation so deltas are measured against the pre-invocation baseline,
// never against a value this same invocation already proposed.
type VisibilityMapSnapshot struct {
	stored StoredStatesFunc
	maps   map[string]map[string]State
}

func NewVisibilityMapSnapshot(stored StoredStatesFunc) *VisibilityMapSnapshot {
	return &VisibilityMapSnapshot{
		stored: stored,
		maps:   make(map[string]map[string]State),
	}
}

// State returns the baseline state observer currently has toward target.
// Absent entries read as Observed.
func (s *VisibilityMapSnapshot) State(observer, target string) State {
	m, ok := s.maps[observer]
	if !ok {
		if s.stored != nil {
			m = s.stored(observer)
		}
		if m == nil {
			m = map[string]State{}
		}
		s.maps[observer] = m
	}
	return m[target]
}
