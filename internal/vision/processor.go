package vision

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"time"

	"go.uber.org/zap"
)

// Params tunes the engine. All durations are call-time timestamp windows;
// nothing in the engine schedules timers.
type Params struct {
	CellSize          float64       // scene grid cell size, also the spatial index cell size
	VisionRange       float64       // default neighbor query radius
	VisibilityTTL     time.Duration // cross-batch graded-state cache TTL
	LOSTTL            time.Duration // cross-batch line-of-sight cache TTL
	BurstWindow       time.Duration // lighting snapshot verbatim-reuse window
	FingerprintWindow time.Duration // environment fingerprint memo window
	LightingCooldown  time.Duration // force-fresh window after InvalidateLighting
	IndexTTL          time.Duration // spatial index / id-map reuse window
	PruneInterval     time.Duration // minimum gap between cache prunes
}

// DefaultParams returns production tuning. The lighting cooldown equals
// the visibility TTL so cached visibility cannot outlive fresh lighting.
func DefaultParams() Params {
	return Params{
		CellSize:          100,
		VisionRange:       600,
		VisibilityTTL:     3 * time.Second,
		LOSTTL:            5 * time.Second,
		BurstWindow:       150 * time.Millisecond,
		FingerprintWindow: 200 * time.Millisecond,
		LightingCooldown:  3 * time.Second,
		IndexTTL:          5 * time.Second,
		PruneInterval:     time.Second,
	}
}

// Deps bundles the external collaborators the processor consults.
// Position, LOS, Grade and Stored are required; the rest degrade to
// no-ops when nil.
type Deps struct {
	Position     PositionFunc
	LOS          LineOfSightFunc
	Grade        GradeFunc
	Sense        SenseFunc
	Override     OverrideFunc
	Postprocess  PostprocessFunc
	Stored       StoredStatesFunc
	Environment  EnvironmentFunc
	AmbientLight AmbientLightFunc
	Log          *zap.Logger
}

// Options carries invocation-scoped tuning.
type Options struct {
	MaxRange   float64             // neighbor radius; 0 = Params.VisionRange
	VisibleIDs map[string]struct{} // viewport filter; nil = no filtering
	Lighting   *LightLevels        // caller-precomputed lighting for this invocation
}

// Breakdown is the per-invocation diagnostics record.
type Breakdown struct {
	PairsConsidered      int
	PairsComputed        int // directions resolved through the compute path
	PairsSkippedOverride int
	PairsSkippedNoChange int
	PairsSkippedLOS      int
	PairsFailed          int

	VisGlobalHits    int
	VisGlobalMisses  int
	VisGlobalExpired int
	LosGlobalHits    int
	LosGlobalMisses  int
	LosGlobalExpired int
	VisMemoHits      int
	LosMemoHits      int

	GradeCalls   int
	CachesPruned int

	Lighting LightingDiag
}

// Result is the outcome of one Process invocation.
type Result struct {
	Updates   []Update
	Breakdown Breakdown
	Processed int // changed entities actually walked
}

// Processor is the batch orchestrator. It owns the only state that
// outlives an invocation: the two cross-batch TTL caches, the reused
// spatial index + id map, and the lighting state. All of it is mutated
// from a single goroutine; the only suspension point is the grading
// oracle call.
type Processor struct {
	params Params
	deps   Deps
	log    *zap.Logger

	visCache *Cache[State]
	losCache *Cache[bool]
	lighting *Lighting

	index        *SpatialIndex
	byID         map[string]Entity
	indexBuiltAt time.Time
	indexSig     uint64
}

// NewProcessor validates required collaborators and builds the engine.
func NewProcessor(params Params, deps Deps) (*Processor, error) {
	if deps.Position == nil {
		return nil, errors.New("vision: Deps.Position is required")
	}
	if deps.LOS == nil {
		return nil, errors.New("vision: Deps.LOS is required")
	}
	if deps.Grade == nil {
		return nil, errors.New("vision: Deps.Grade is required")
	}
	if deps.Stored == nil {
		return nil, errors.New("vision: Deps.Stored is required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		params:   params,
		deps:     deps,
		log:      log,
		visCache: NewCache[State](params.VisibilityTTL),
		losCache: NewCache[bool](params.LOSTTL),
		lighting: NewLighting(deps.Environment, deps.AmbientLight,
			params.BurstWindow, params.FingerprintWindow, params.LightingCooldown),
	}, nil
}

// InvalidateLighting must be called whenever light-affecting scene state
// changes outside the normal per-invocation flow.
func (p *Processor) InvalidateLighting() {
	p.lighting.Invalidate()
}

// ClearCaches drops all cross-batch state: both TTL caches and the reused
// spatial index. Required after position jumps or override edits that
// would otherwise linger up to a TTL.
func (p *Processor) ClearCaches() {
	p.visCache.Clear()
	p.losCache.Clear()
	p.index = nil
	p.byID = nil
	p.indexBuiltAt = time.Time{}
}

// Lighting exposes the lighting layer so a caller can precompute a
// snapshot once and feed it to several invocations via Options.Lighting.
func (p *Processor) Lighting() *Lighting { return p.lighting }

// invocation holds the per-call working set: snapshots, memos and the
// per-invocation LOS/state memo maps.
type invocation struct {
	ctx       context.Context
	positions *PositionSnapshot
	visSnap   *VisibilityMapSnapshot
	overrides *OverrideMemo
	light     *LightLevels
	losMemo   map[string]bool
	visMemo   map[string]State
	fresh     bool // lighting force-fresh in effect: bypass vis cache reads
	res       *Result
}

// Process computes the minimal set of visibility deltas for one batch of
// changed entities. Pair outcomes are independent of evaluation order;
// each pair is terminal for the invocation (skipped or computed, never
// revisited). Cancellation is the caller's concern: a stale invocation
// is simply not invoked, or is followed by ClearCaches.
func (p *Processor) Process(ctx context.Context, entities []Entity, changedIDs []string, opts Options) Result {
	res := Result{}
	inv := &invocation{
		ctx:       ctx,
		positions: BuildPositionSnapshot(entities, p.deps.Position, p.params.CellSize),
		visSnap:   NewVisibilityMapSnapshot(p.deps.Stored),
		overrides: NewOverrideMemo(p.deps.Override),
		losMemo:   make(map[string]bool),
		visMemo:   make(map[string]State),
		fresh:     p.lighting.ForceFreshActive(),
		res:       &res,
	}

	p.ensureIndex(entities, inv.positions)

	inv.light = opts.Lighting
	if inv.light == nil {
		inv.light, res.Breakdown.Lighting = p.lighting.Precompute(entities, inv.positions)
	}

	radius := opts.MaxRange
	if radius <= 0 {
		radius = p.params.VisionRange
	}

	seen := make(map[[2]string]struct{})
	for _, cid := range changedIDs {
		c, ok := p.byID[cid]
		if !ok {
			continue
		}
		if s, ok := c.(SuppressesRecompute); ok && s.VisibilitySuppressed() {
			continue
		}
		cPos, ok := p.resolvePos(inv, c)
		if !ok {
			continue
		}
		res.Processed++

		for _, nid := range p.index.QueryCircle(cPos.X, cPos.Y, radius) {
			if nid == cid {
				continue
			}
			if opts.VisibleIDs != nil {
				if _, vis := opts.VisibleIDs[nid]; !vis {
					continue
				}
			}
			pk := pairID(cid, nid)
			if _, dup := seen[pk]; dup {
				continue
			}
			seen[pk] = struct{}{}

			n, ok := p.byID[nid]
			if !ok {
				continue
			}
			nPos, ok := p.resolvePos(inv, n)
			if !ok {
				continue
			}
			res.Breakdown.PairsConsidered++
			p.processPair(inv, c, cPos, n, nPos)
		}
	}

	res.Breakdown.CachesPruned = p.visCache.PruneIfDue(p.params.PruneInterval) +
		p.losCache.PruneIfDue(p.params.PruneInterval)

	p.log.Debug("visibility batch processed",
		zap.Int("changed", len(changedIDs)),
		zap.Int("processed", res.Processed),
		zap.Int("pairs", res.Breakdown.PairsConsidered),
		zap.Int("updates", len(res.Updates)),
		zap.Int("failed", res.Breakdown.PairsFailed))
	return res
}

// processPair runs the override → no-change → LOS → grade pipeline for
// one (mover, neighbor) pair. c is the changed entity, n the neighbor.
func (p *Processor) processPair(inv *invocation, c Entity, cPos Pos, n Entity, nPos Pos) {
	bd := &inv.res.Breakdown
	cid, nid := c.ID(), n.ID()

	// Baselines are read before any computation and never re-read.
	baseCN := inv.visSnap.State(cid, nid)
	baseNC := inv.visSnap.State(nid, cid)

	// Overrides on the direction into the mover take precedence over
	// fresh computation and settle the whole pair.
	if st, ok := inv.overrides.Get(nid, cid); ok {
		if st != baseNC {
			inv.res.Updates = append(inv.res.Updates, Update{Observer: nid, Target: cid, State: st})
		}
		bd.PairsSkippedOverride++
		return
	}
	cnSettled := false
	if st, ok := inv.overrides.Get(cid, nid); ok {
		if st != baseCN {
			inv.res.Updates = append(inv.res.Updates, Update{Observer: cid, Target: nid, State: st})
		}
		bd.PairsSkippedOverride++
		cnSettled = true
	}

	fineC := p.fineKey(inv, cid, cPos)
	fineN := p.fineKey(inv, nid, nPos)
	keyCN := dirPairKey(cid, fineC, nid, fineN)
	keyNC := dirPairKey(nid, fineN, cid, fineC)

	// Early no-change short-circuit: cached hits matching both baselines
	// mean nothing to do, so no LOS check and no grading. Bypassed entirely
	// while a lighting invalidation is in effect.
	var readCN, readNC ReadState
	var valCN, valNC State
	if !inv.fresh {
		if !cnSettled {
			readCN, valCN = p.visCache.GetWithMeta(keyCN)
			bd.countVis(readCN)
		}
		readNC, valNC = p.visCache.GetWithMeta(keyNC)
		bd.countVis(readNC)

		cnQuiet := cnSettled || (readCN == ReadHit && valCN == baseCN)
		ncQuiet := readNC == ReadHit && valNC == baseNC
		if cnQuiet && ncQuiet {
			bd.PairsSkippedNoChange++
			return
		}
	}

	// Line of sight on the coarse pair key: invocation memo, then the
	// cross-batch cache, then the oracle.
	lk := losPairKey(cid, p.coarseKey(inv, cid, cPos), nid, p.coarseKey(inv, nid, nPos))
	los, memoized := inv.losMemo[lk]
	if memoized {
		bd.LosMemoHits++
	} else {
		st, v := p.losCache.GetWithMeta(lk)
		bd.countLos(st)
		if st == ReadHit {
			los = v
		} else {
			los = p.deps.LOS(cPos, nPos)
			p.losCache.Set(lk, los)
		}
		inv.losMemo[lk] = los
	}

	if !los {
		dist := planarDist(cPos, nPos)
		sensed := p.deps.Sense != nil &&
			(p.deps.Sense(c, n, dist) || p.deps.Sense(n, c, dist))
		if !sensed {
			bd.PairsSkippedLOS++
			return
		}
	}

	if !cnSettled {
		p.computeDirection(inv, c, cPos, n, nPos, keyCN, baseCN, readCN, valCN)
	}
	p.computeDirection(inv, n, nPos, c, cPos, keyNC, baseNC, readNC, valNC)
}

// computeDirection settles one direction: invocation memo, cross-batch
// cache (unless fresh lighting is forced), then the grading oracle. The
// freshly graded value is cached before postprocessing; a grading or
// postprocess failure skips the direction and counts it as failed.
func (p *Processor) computeDirection(inv *invocation, observer Entity, obsPos Pos, target Entity, tgtPos Pos, key string, base State, read ReadState, cached State) {
	bd := &inv.res.Breakdown
	var st State
	switch {
	case memoHas(inv.visMemo, key):
		st = inv.visMemo[key]
		bd.VisMemoHits++
	case !inv.fresh && read == ReadHit:
		st = cached
	default:
		tl := -1.0
		if lv, ok := inv.light.Level(target.ID()); ok {
			tl = lv
		}
		graded, err := p.deps.Grade(inv.ctx, observer, target, obsPos, tgtPos, tl)
		if err != nil {
			bd.PairsFailed++
			p.log.Warn("grading failed",
				zap.String("observer", observer.ID()),
				zap.String("target", target.ID()),
				zap.Error(err))
			return
		}
		bd.GradeCalls++
		st = graded
		inv.visMemo[key] = st
		p.visCache.Set(key, st)
	}
	bd.PairsComputed++

	if p.deps.Postprocess != nil {
		if adjusted, ok := p.deps.Postprocess(st, observer, target); ok {
			st = adjusted
		}
	}
	if st != base {
		inv.res.Updates = append(inv.res.Updates, Update{Observer: observer.ID(), Target: target.ID(), State: st})
	}
}

// resolvePos prefers the snapshot, falling back to a live lookup for
// entities that entered the working set as neighbors only.
func (p *Processor) resolvePos(inv *invocation, e Entity) (Pos, bool) {
	if pos, ok := inv.positions.Get(e.ID()); ok {
		return pos, true
	}
	return p.deps.Position(e)
}

func (p *Processor) fineKey(inv *invocation, id string, pos Pos) string {
	if k := inv.positions.Fine(id); k != "" {
		return k
	}
	return FineKey(pos, p.params.CellSize)
}

func (p *Processor) coarseKey(inv *invocation, id string, pos Pos) string {
	if k := inv.positions.Coarse(id); k != "" {
		return k
	}
	return CoarseKey(pos, p.params.CellSize)
}

// ensureIndex reuses the spatial index and id map while the entity set is
// unchanged and the index is younger than IndexTTL.
func (p *Processor) ensureIndex(entities []Entity, positions *PositionSnapshot) {
	sig := entitySetSignature(entities)
	if p.index != nil && sig == p.indexSig && time.Since(p.indexBuiltAt) < p.params.IndexTTL {
		return
	}
	idx := NewSpatialIndex(p.params.CellSize)
	idx.Build(entities, func(e Entity) (Pos, bool) { return positions.Get(e.ID()) })
	byID := make(map[string]Entity, len(entities))
	for _, e := range entities {
		byID[e.ID()] = e
	}
	p.index = idx
	p.byID = byID
	p.indexBuiltAt = time.Now()
	p.indexSig = sig
}

// entitySetSignature is an order-independent hash of the entity id set.
func entitySetSignature(entities []Entity) uint64 {
	sig := uint64(len(entities))
	for _, e := range entities {
		h := fnv.New64a()
		h.Write([]byte(e.ID()))
		sig ^= h.Sum64()
	}
	return sig
}

func (b *Breakdown) countVis(st ReadState) {
	switch st {
	case ReadHit:
		b.VisGlobalHits++
	case ReadExpired:
		b.VisGlobalExpired++
	default:
		b.VisGlobalMisses++
	}
}

func (b *Breakdown) countLos(st ReadState) {
	switch st {
	case ReadHit:
		b.LosGlobalHits++
	case ReadExpired:
		b.LosGlobalExpired++
	default:
		b.LosGlobalMisses++
	}
}

func memoHas(m map[string]State, key string) bool {
	_, ok := m[key]
	return ok
}

func pairID(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func planarDist(a, b Pos) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
