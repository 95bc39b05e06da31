// Package sampleloader implements lazy first-run corpus seeding (C13): if
// the store is empty and sample seeding has not already happened, any
// files already present in (or later dropped into) a configured samples
// directory are ingested once, automatically.
package sampleloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/arborq/ragcore/pipeline"
	"github.com/arborq/ragcore/store"
	"github.com/arborq/ragcore/telemetry"
)

// seededFlagKey is the metadata key recording that sample seeding has run,
// resolving spec.md's open question: trigger iff the corpus is empty AND
// this flag is unset; setting it is the seed operation's postcondition.
const seededFlagKey = "sample-seeded"

// Loader watches a samples directory and seeds the corpus at most once.
type Loader struct {
	st   *store.Store
	orch *pipeline.Orchestrator
	dir  string
	log  telemetry.Logger
}

// New constructs a Loader over dir. dir need not exist yet; Watch treats a
// missing directory as "nothing to seed" rather than an error.
func New(st *store.Store, orch *pipeline.Orchestrator, dir string, log telemetry.Logger) *Loader {
	if log == nil {
		log = telemetry.NopLogger{}
	}
	return &Loader{st: st, orch: orch, dir: dir, log: log}
}

// ShouldSeed reports whether seeding should run: the corpus is empty AND
// the sample-seeded flag has not been set.
func (l *Loader) ShouldSeed() (bool, error) {
	if l.dir == "" {
		return false, nil
	}
	_, seeded, err := l.st.GetMetadata(seededFlagKey)
	if err != nil {
		return false, fmt.Errorf("sampleloader: reading seeded flag: %w", err)
	}
	if seeded {
		return false, nil
	}
	docs, err := l.st.ListDocs()
	if err != nil {
		return false, fmt.Errorf("sampleloader: listing docs: %w", err)
	}
	return len(docs) == 0, nil
}

// SeedOnce ingests every supported file currently in the samples directory
// and sets the sample-seeded flag only once at least one file was actually
// ingested — an empty or not-yet-existing directory leaves the flag unset
// so a file dropped in later (caught by Watch) still triggers seeding.
func (l *Loader) SeedOnce(ctx context.Context) error {
	should, err := l.ShouldSeed()
	if err != nil {
		return err
	}
	if !should {
		return nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sampleloader: reading samples dir: %w", err)
	}

	var ingestedAny bool
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind, ok := kindOf(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			l.log.Warn("sampleloader: skipping unreadable sample", "path", path, "error", err)
			continue
		}
		if _, err := l.orch.Ingest(ctx, entry.Name(), kind, data, nil); err != nil {
			l.log.Warn("sampleloader: skipping sample that failed to ingest", "path", path, "error", err)
			continue
		}
		ingestedAny = true
	}

	if !ingestedAny {
		return nil
	}
	return l.st.PutMetadata(seededFlagKey, "true")
}

// Watch blocks, seeding immediately if ShouldSeed is already true, then
// watching the samples directory for a later write (e.g. a file dropped in
// after process start) and seeding once more if still applicable. It
// returns when ctx is canceled.
func (l *Loader) Watch(ctx context.Context) error {
	if err := l.SeedOnce(ctx); err != nil {
		return err
	}

	if l.dir == "" {
		<-ctx.Done()
		return nil
	}
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		if err := os.MkdirAll(l.dir, 0755); err != nil {
			return fmt.Errorf("sampleloader: creating samples dir: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sampleloader: creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("sampleloader: watching %s: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := l.SeedOnce(ctx); err != nil {
				l.log.Warn("sampleloader: seed attempt failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("sampleloader: watcher error", "error", err)
		}
	}
}

func kindOf(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "txt", true
	case ".md":
		return "md", true
	case ".pdf":
		return "pdf", true
	default:
		return "", false
	}
}
