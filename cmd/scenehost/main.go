// Command scenehost opens collection manifests against a shared directory,
// reports every reference that stays unresolved and optionally persists the
// resulting identities to PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/sceneref/internal/assetid"
	"github.com/udisondev/sceneref/internal/collection"
	"github.com/udisondev/sceneref/internal/config"
	"github.com/udisondev/sceneref/internal/db"
	"github.com/udisondev/sceneref/internal/refcache"
	"github.com/udisondev/sceneref/internal/resolver"
	"github.com/udisondev/sceneref/internal/scene"
)

const HostConfigPath = "config/scenehost.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scenehost", flag.ContinueOnError)
	cfgPath := fs.String("config", HostConfigPath, "path to the host config")
	fromDB := fs.Bool("from-db", false, "open every stored collection instead of manifest files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if p := os.Getenv("SCENEREF_CONFIG"); p != "" && !flagSet(fs, "config") {
		*cfgPath = p
	}

	cfg, err := config.LoadHost(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading host config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	slog.Info("scenehost starting", "log_level", cfg.LogLevel, "config", *cfgPath)

	var database *db.DB
	if cfg.Persist || *fromDB {
		if database, err = db.New(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	var manifests []*scene.Manifest
	if *fromDB {
		manifests, err = loadStored(ctx, database.Scenes())
	} else {
		manifests, err = loadFiles(ctx, cfg.ManifestDir, fs.Args())
	}
	if err != nil {
		return err
	}

	assets := assetid.NewTable()
	for path, id := range cfg.AssetIDs {
		assets.Assign(path, id)
	}

	dir := resolver.New(resolver.WithRegistryOptions(
		collection.WithDuplicateHook(func(ev collection.DuplicateEvent) {
			slog.Debug("instance id renumbered",
				"collection", ev.Collection,
				"identifier", ev.Identifier,
				"requested", ev.Requested,
				"assigned", ev.Assigned)
		}),
	))
	host := scene.NewHost(dir, assets, slog.Default())

	scenes := make([]*scene.Scene, 0, len(manifests))
	defer func() {
		// Закрываем в обратном порядке открытия.
		for _, s := range slices.Backward(scenes) {
			if err := host.Close(s); err != nil {
				slog.Error("closing scene", "collection", s.ID(), "err", err)
			}
		}
	}()
	for _, m := range manifests {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := host.Open(m)
		if err != nil {
			return err
		}
		scenes = append(scenes, s)
	}
	slog.Info("collections opened", "count", len(scenes), "loaded", dir.Len())

	cache, err := refcache.New(dir, cfg.CacheSize)
	if err != nil {
		return fmt.Errorf("creating resolution cache: %w", err)
	}
	dangling := report(dir, cache, scenes)

	if cfg.Persist {
		if err := persist(ctx, database.Scenes(), scenes); err != nil {
			return err
		}
		slog.Info("collections persisted", "count", len(scenes))
	}

	stats := cache.Stats()
	slog.Info("scenehost done",
		"collections", len(scenes),
		"unresolved", dangling,
		"cache_hits", stats.Hits,
		"cache_misses", stats.Misses)
	return nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func loadFiles(ctx context.Context, manifestDir string, paths []string) ([]*scene.Manifest, error) {
	if len(paths) == 0 {
		var err error
		paths, err = filepath.Glob(filepath.Join(manifestDir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("listing manifests in %s: %w", manifestDir, err)
		}
	}
	if len(paths) == 0 {
		slog.Warn("no manifests found", "dir", manifestDir)
		return nil, nil
	}
	manifests, err := scene.LoadManifests(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("loading manifests: %w", err)
	}
	slog.Info("manifests loaded", "count", len(manifests))
	return manifests, nil
}

func loadStored(ctx context.Context, repo *db.SceneRepository) ([]*scene.Manifest, error) {
	stored, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	manifests := make([]*scene.Manifest, 0, len(stored))
	for _, sc := range stored {
		m, err := repo.Load(ctx, sc.ID)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	slog.Info("stored collections loaded", "count", len(manifests))
	return manifests, nil
}

// report logs every reference field that does not resolve and warms the
// cache with the ones that do. Returns the number of dangling fields.
func report(dir *resolver.Directory, cache *refcache.Cache, scenes []*scene.Scene) int {
	total := 0
	for _, s := range scenes {
		for _, d := range s.Unresolved(dir) {
			slog.Warn("unresolved reference",
				"collection", s.ID(),
				"object", d.Object.Name(),
				"field", d.Field,
				"ref", d.Ref)
			total++
		}
		for _, obj := range s.Objects() {
			for _, r := range obj.Refs() {
				cache.Resolve(r)
			}
		}
	}
	return total
}

func persist(ctx context.Context, repo *db.SceneRepository, scenes []*scene.Scene) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, s := range scenes {
		snap := s.Snapshot()
		g.Go(func() error {
			if err := repo.Save(gctx, snap); err != nil {
				return fmt.Errorf("persisting collection %s: %w", snap.Collection, err)
			}
			return nil
		})
	}
	return g.Wait()
}
