package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/umbragrid/server/internal/config"
	"github.com/umbragrid/server/internal/persist"
	"github.com/umbragrid/server/internal/rules"
	"github.com/umbragrid/server/internal/scene"
	"github.com/umbragrid/server/internal/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m           umbragrid  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     incremental visibility engine         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mworld:\033[0m %s\n\n", name)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main daemon logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/umbragrid.toml"
	if p := os.Getenv("UMBRAGRID_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 3. Optional PostgreSQL backing store
	var repo *persist.VisibilityRepo
	if cfg.Database.Enabled {
		printSection("database")
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("postgresql connected")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		fmt.Println()

		repo = persist.NewVisibilityRepo(db)
	}

	// 4. Load scene and rule scripts
	printSection("world data")

	sc, err := scene.Load(cfg.Server.ScenePath)
	if err != nil {
		return fmt.Errorf("load scene: %w", err)
	}
	printStat("tokens", len(sc.Tokens()))
	printStat("walls", len(sc.Walls))
	printStat("lights", len(sc.Lights))
	printStat("darkness regions", len(sc.Regions))

	engine, err := rules.NewEngine(cfg.Rules.ScriptDir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer engine.Close()
	printOK("lua scripts loaded")

	// 5. Seed the store and overrides from the database when available
	store := newMemoryStore()
	overrides := map[[2]string]vision.State{}
	if repo != nil {
		states, err := repo.LoadStates(ctx)
		if err != nil {
			return fmt.Errorf("load visibility states: %w", err)
		}
		store.seed(states)
		overrides, err = repo.LoadOverrides(ctx)
		if err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
		printStat("stored pairs", store.len())
		printStat("overrides", len(overrides))
	}
	fmt.Println()

	// 6. Build the processor
	proc, err := vision.NewProcessor(engineParams(cfg.Engine), vision.Deps{
		Position: func(e vision.Entity) (vision.Pos, bool) {
			t, ok := sc.Token(e.ID())
			if !ok {
				return vision.Pos{}, false
			}
			return t.Position()
		},
		LOS:   sc.LineOfSight,
		Grade: gradeFunc(sc, engine),
		Sense: sc.CanSense,
		Override: func(observer, target string) (vision.State, bool) {
			st, ok := overrides[[2]string{observer, target}]
			return st, ok
		},
		Postprocess:  postprocessFunc(sc, engine),
		Stored:       store.states,
		Environment:  sc.Environment,
		AmbientLight: sc.AmbientLight,
		Log:          log,
	})
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	// 7. Simulation loop: jitter a few tokens per tick and feed the
	// resulting deltas back into the store
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Simulation.TickRate)
	defer ticker.Stop()

	printSection("engine ready")
	printReady(fmt.Sprintf("scene %q loaded", sc.Name))
	printReady(fmt.Sprintf("simulation loop started (tick: %s)", cfg.Simulation.TickRate))
	fmt.Println()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ticker.C:
			changed := jitterTokens(sc, rng, cfg.Simulation.MoversPerTick)
			if len(changed) == 0 {
				continue
			}
			res := proc.Process(context.Background(), sc.Entities(), changed, vision.Options{})
			if len(res.Updates) == 0 {
				continue
			}
			store.apply(res.Updates)
			if repo != nil {
				writeCtx, writeCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := repo.ApplyUpdates(writeCtx, res.Updates); err != nil {
					log.Error("persist visibility deltas", zap.Error(err))
				}
				writeCancel()
			}
			log.Info("visibility deltas",
				zap.Int("updates", len(res.Updates)),
				zap.Int("pairs", res.Breakdown.PairsConsidered),
				zap.Int("computed", res.Breakdown.PairsComputed),
				zap.Int("skipped_no_change", res.Breakdown.PairsSkippedNoChange),
				zap.Int("skipped_los", res.Breakdown.PairsSkippedLOS),
				zap.Int("failed", res.Breakdown.PairsFailed),
				zap.Int("vis_hits", res.Breakdown.VisGlobalHits),
				zap.Int("los_hits", res.Breakdown.LosGlobalHits))
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			return nil
		}
	}
}

func engineParams(cfg config.EngineConfig) vision.Params {
	p := vision.DefaultParams()
	if cfg.GridSize > 0 {
		p.CellSize = cfg.GridSize
	}
	if cfg.VisionRange > 0 {
		p.VisionRange = cfg.VisionRange
	}
	if cfg.VisibilityTTL > 0 {
		p.VisibilityTTL = cfg.VisibilityTTL
	}
	if cfg.LOSTTL > 0 {
		p.LOSTTL = cfg.LOSTTL
	}
	if cfg.IndexTTL > 0 {
		p.IndexTTL = cfg.IndexTTL
	}
	if cfg.BurstWindow > 0 {
		p.BurstWindow = cfg.BurstWindow
	}
	if cfg.FingerprintWindow > 0 {
		p.FingerprintWindow = cfg.FingerprintWindow
	}
	if cfg.LightingCooldown > 0 {
		p.LightingCooldown = cfg.LightingCooldown
	}
	if cfg.PruneInterval > 0 {
		p.PruneInterval = cfg.PruneInterval
	}
	return p
}

// gradeFunc adapts the Lua rule engine to the processor's grading oracle.
func gradeFunc(sc *scene.Scene, engine *rules.Engine) vision.GradeFunc {
	return func(ctx context.Context, observer, target vision.Entity, from, to vision.Pos, targetLight float64) (vision.State, error) {
		if err := ctx.Err(); err != nil {
			return vision.Observed, err
		}
		gctx := rules.GradeContext{
			Observer:    observer.ID(),
			Target:      target.ID(),
			Distance:    planar(from, to),
			TargetLight: targetLight,
			HasLOS:      sc.LineOfSight(from, to),
		}
		gctx.Sensed = sc.CanSense(observer, target, gctx.Distance)
		if le, ok := target.(vision.LightEmitting); ok {
			_, gctx.TargetEmitsLight = le.Emission()
		}
		return engine.GradeVisibility(gctx)
	}
}

func postprocessFunc(sc *scene.Scene, engine *rules.Engine) vision.PostprocessFunc {
	return func(state vision.State, observer, target vision.Entity) (vision.State, bool) {
		gctx := rules.GradeContext{
			Observer: observer.ID(),
			Target:   target.ID(),
		}
		if le, ok := target.(vision.LightEmitting); ok {
			_, gctx.TargetEmitsLight = le.Emission()
		}
		return engine.PostprocessVisibility(state, gctx)
	}
}

// jitterTokens moves up to n random non-suppressed tokens one short step
// and returns the moved ids.
func jitterTokens(sc *scene.Scene, rng *rand.Rand, n int) []string {
	tokens := sc.Tokens()
	if len(tokens) == 0 || n <= 0 {
		return nil
	}
	var changed []string
	for i := 0; i < n; i++ {
		t := tokens[rng.Intn(len(tokens))]
		if t.Suppressed {
			continue
		}
		dx := (rng.Float64() - 0.5) * sc.GridSize
		dy := (rng.Float64() - 0.5) * sc.GridSize
		sc.MoveToken(t.TokenID, t.X+dx, t.Y+dy, t.Elevation)
		changed = append(changed, t.TokenID)
	}
	return changed
}

func planar(a, b vision.Pos) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
