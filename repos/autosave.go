package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue"
)

// defaultMaxSavesPerMinute caps autosave job creation per repo when neither
// config nor manifest set a rate.
const defaultMaxSavesPerMinute = 2

// Autosaver watches registered repo worktrees and enqueues repos.save jobs
// after writes settle. Saves are debounced per repo and rate limited so a
// busy editing session does not turn into a commit storm.
type Autosaver struct {
	queue  *queue.Queue
	store  *Store
	cfg    *am.Config
	logger *zap.SugaredLogger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	roots    map[string]string // repo path -> repo name
	limiters map[string]*rate.Limiter
	timers   map[string]*time.Timer
}

// NewAutosaver creates an autosaver over the registered repos.
func NewAutosaver(q *queue.Queue, store *Store, cfg *am.Config, logger *zap.SugaredLogger) *Autosaver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Autosaver{
		queue:    q,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		roots:    make(map[string]string),
		limiters: make(map[string]*rate.Limiter),
		timers:   make(map[string]*time.Timer),
	}
}

// Start begins watching every autosave-enabled repo. A no-op when autosave
// is disabled in config.
func (a *Autosaver) Start(ctx context.Context) error {
	if !a.cfg.Autosave.Enabled {
		a.logger.Infow("Autosave disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	a.watcher = watcher
	a.ctx, a.cancel = context.WithCancel(ctx)

	list, err := a.store.ListAutosave()
	if err != nil {
		watcher.Close()
		return err
	}
	for _, repo := range list {
		if err := a.Watch(repo); err != nil {
			a.logger.Warnw("Failed to watch repo", "repo", repo.Name, "error", err)
		}
	}

	a.wg.Add(1)
	go a.loop()

	a.logger.Infow("Autosave watcher started", "repos", len(a.roots))
	return nil
}

// Stop halts the watcher and drops pending debounce timers.
func (a *Autosaver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = make(map[string]*time.Timer)
}

// Watch adds a repo to the watch set. The repo manifest can opt out of
// autosave or override the rate cap.
func (a *Autosaver) Watch(repo *Repo) error {
	maxPerMinute := a.cfg.Autosave.MaxSavesPerMinute

	manifest, err := LoadManifest(repo.Path)
	if err != nil {
		a.logger.Warnw("Ignoring unreadable repo manifest", "repo", repo.Name, "error", err)
	} else {
		if manifest.Autosave != nil && !*manifest.Autosave {
			a.logger.Infow("Repo manifest opts out of autosave", "repo", repo.Name)
			return nil
		}
		if manifest.MaxSavesPerMinute > 0 {
			maxPerMinute = manifest.MaxSavesPerMinute
		}
	}
	if maxPerMinute <= 0 {
		maxPerMinute = defaultMaxSavesPerMinute
	}

	if err := a.addTree(repo.Path); err != nil {
		return err
	}

	a.mu.Lock()
	a.roots[repo.Path] = repo.Name
	a.limiters[repo.Name] = rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), 1)
	a.mu.Unlock()
	return nil
}

// addTree registers a directory and its subdirectories with the watcher,
// skipping .git.
func (a *Autosaver) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := a.watcher.Add(path); err != nil {
			return errors.Wrapf(err, "failed to watch %s", path)
		}
		return nil
	})
}

func (a *Autosaver) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return

		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handleEvent(event)

		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				a.logger.Warnw("Watcher overflow, rescanning watch roots")
				a.rescan()
				continue
			}
			a.logger.Warnw("Watcher error", "error", err)
		}
	}
}

func (a *Autosaver) handleEvent(event fsnotify.Event) {
	const ops = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}
	if isGitPath(event.Name) {
		return
	}

	name := a.repoFor(event.Name)
	if name == "" {
		return
	}

	// New directories join the watch set so writes inside them are seen.
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := a.watcher.Add(event.Name); err != nil {
				a.logger.Debugw("Failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	a.bump(name)
}

// repoFor maps an event path to the registered repo containing it.
func (a *Autosaver) repoFor(path string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for root, name := range a.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return name
		}
	}
	return ""
}

// bump starts or extends the repo's debounce window.
func (a *Autosaver) bump(name string) {
	debounce := time.Duration(a.cfg.Autosave.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.timers[name]; ok {
		t.Reset(debounce)
		return
	}
	a.timers[name] = time.AfterFunc(debounce, func() { a.fire(name) })
}

// fire runs when a repo's writes have settled.
func (a *Autosaver) fire(name string) {
	a.mu.Lock()
	delete(a.timers, name)
	limiter := a.limiters[name]
	a.mu.Unlock()

	if a.ctx.Err() != nil {
		return
	}
	if limiter != nil {
		res := limiter.Reserve()
		if !res.OK() {
			a.logger.Warnw("Autosave limiter cannot grant a save", "repo", name)
			return
		}
		if delay := res.Delay(); delay > 0 {
			// The rate window is shut. Dropping here would strand the last
			// burst of edits until the next filesystem event, so re-arm the
			// timer for the window's remainder instead.
			res.Cancel()
			a.mu.Lock()
			if _, ok := a.timers[name]; !ok {
				a.timers[name] = time.AfterFunc(delay, func() { a.fire(name) })
			}
			a.mu.Unlock()
			a.logger.Debugw("Autosave rate limited, deferred", "repo", name, "delay", delay)
			return
		}
	}
	a.enqueueSave(name)
}

// enqueueSave creates a repos.save job unless one is already pending for the
// repo.
func (a *Autosaver) enqueueSave(name string) {
	source := "autosave:" + name

	existing, err := a.queue.Store().FindActiveJobBySourceAndHandler(source, SaveHandlerName)
	if err != nil {
		a.logger.Warnw("Autosave dedup check failed", "repo", name, "error", err)
	} else if existing != nil {
		a.logger.Debugw("Save already queued", "repo", name, "job_id", existing.ID)
		return
	}

	payload, err := json.Marshal(SavePayload{Repo: name})
	if err != nil {
		a.logger.Errorw("Failed to marshal save payload", "repo", name, "error", err)
		return
	}

	job, err := queue.NewJob(SaveHandlerName, payload, source,
		queue.WithCategory(queue.CategoryChore),
		queue.WithPriority(queue.PriorityLow),
		queue.WithDescription(fmt.Sprintf("Autosave %s", name)))
	if err != nil {
		a.logger.Errorw("Failed to create autosave job", "repo", name, "error", err)
		return
	}
	if err := a.queue.Enqueue(job); err != nil {
		a.logger.Errorw("Failed to enqueue autosave", "repo", name, "error", err)
		return
	}

	a.logger.Infow("Autosave queued", "repo", name, "job_id", job.ID)
}

// rescan re-walks every watch root after an event overflow and schedules a
// save per repo, since events were lost.
func (a *Autosaver) rescan() {
	a.mu.Lock()
	roots := make(map[string]string, len(a.roots))
	for path, name := range a.roots {
		roots[path] = name
	}
	a.mu.Unlock()

	for path, name := range roots {
		if err := a.addTree(path); err != nil {
			a.logger.Warnw("Rescan failed", "repo", name, "error", err)
		}
		a.bump(name)
	}
}

// isGitPath reports whether a path is inside a .git directory.
func isGitPath(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/.git/") || strings.HasSuffix(path, "/.git")
}
