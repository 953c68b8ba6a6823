// Package guard bounds LLM-driven work per project: exponential
// backoff after repeated failures, daily quotas for questions and
// explorations, and deduplication of repeated identical tool calls.
// Its job is to stop an agent from burning budget in a loop.
package guard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"skb/internal/config"
	"skb/internal/logging"
	"skb/internal/skberr"
	"skb/internal/storage"
)

// BackoffState tracks consecutive failures of one task key
type BackoffState struct {
	Consecutive int
	LastError   string
	Until       time.Time
}

// Guard enforces backoff windows, daily quotas and tool-call dedup.
// All checks are served from memory; persistence runs asynchronously
// so a slow disk never blocks the hot path.
type Guard struct {
	cfg        config.GuardConfig
	projectKey string
	db         *storage.DB
	logger     *logging.Logger

	// now is swapped out in tests to cross day boundaries
	now func() time.Time

	mu           sync.Mutex
	backoffs     map[string]BackoffState
	quotaDay     string
	questions    int
	explorations int
	toolResults  map[string]string

	persistCh chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a guard and restores persisted state
func New(cfg config.GuardConfig, projectKey string, db *storage.DB, logger *logging.Logger) (*Guard, error) {
	g := &Guard{
		cfg:         cfg,
		projectKey:  projectKey,
		db:          db,
		logger:      logger.With("guard"),
		now:         time.Now,
		backoffs:    make(map[string]BackoffState),
		toolResults: make(map[string]string),
		persistCh:   make(chan func(), 64),
	}
	if err := g.restore(); err != nil {
		return nil, err
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for fn := range g.persistCh {
			fn()
		}
	}()
	return g, nil
}

// Close drains pending persistence work
func (g *Guard) Close() {
	g.closeOnce.Do(func() {
		close(g.persistCh)
		g.wg.Wait()
	})
}

func (g *Guard) restore() error {
	rows, err := g.db.Query(
		"SELECT task_key, failures, next_allowed FROM backoff_state WHERE project_key = ?",
		g.projectKey)
	if err != nil {
		return fmt.Errorf("failed to restore backoff state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			key         string
			failures    int
			nextAllowed int64
		)
		if err := rows.Scan(&key, &failures, &nextAllowed); err != nil {
			return fmt.Errorf("failed to scan backoff state: %w", err)
		}
		g.backoffs[key] = BackoffState{
			Consecutive: failures,
			Until:       time.Unix(nextAllowed, 0),
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	day := g.today()
	quotaRows, err := g.db.Query(
		"SELECT kind, used FROM daily_quota WHERE project_key = ? AND day = ?",
		g.projectKey, day)
	if err != nil {
		return fmt.Errorf("failed to restore daily quota: %w", err)
	}
	defer func() { _ = quotaRows.Close() }()
	g.quotaDay = day
	for quotaRows.Next() {
		var kind string
		var used int
		if err := quotaRows.Scan(&kind, &used); err != nil {
			return fmt.Errorf("failed to scan daily quota: %w", err)
		}
		switch kind {
		case "questions":
			g.questions = used
		case "explorations":
			g.explorations = used
		}
	}
	return quotaRows.Err()
}

func (g *Guard) today() string {
	return g.now().Format("2006-01-02")
}

// rollDayLocked resets quotas and the tool-call cache when the
// calendar day changed. Callers hold g.mu.
func (g *Guard) rollDayLocked() {
	day := g.today()
	if day == g.quotaDay {
		return
	}
	g.quotaDay = day
	g.questions = 0
	g.explorations = 0
	g.toolResults = make(map[string]string)
}

// ShouldSkipQuestion checks whether asking a question for the given
// task key may proceed. A nil return means go ahead; otherwise the
// error carries GUARD_BACKOFF or GUARD_QUOTA plus the explicit reason.
func (g *Guard) ShouldSkipQuestion(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()

	if err := g.backoffErrLocked(key); err != nil {
		return err
	}
	if g.questions >= g.cfg.DailyQuestionQuota {
		return skberr.Newf(skberr.GuardQuota, "daily question quota exhausted (%d/%d)",
			g.questions, g.cfg.DailyQuestionQuota)
	}
	return nil
}

// ShouldSkipExploration checks whether a codebase exploration may
// proceed, with the same error contract as ShouldSkipQuestion
func (g *Guard) ShouldSkipExploration(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()

	if err := g.backoffErrLocked(key); err != nil {
		return err
	}
	if g.explorations >= g.cfg.DailyExplorationQuota {
		return skberr.Newf(skberr.GuardQuota, "daily exploration quota exhausted (%d/%d)",
			g.explorations, g.cfg.DailyExplorationQuota)
	}
	return nil
}

// backoffErrLocked returns the GUARD_BACKOFF error for an active
// window, or nil. Callers hold g.mu.
func (g *Guard) backoffErrLocked(key string) error {
	state, ok := g.backoffs[key]
	if !ok || !g.now().Before(state.Until) {
		return nil
	}
	return skberr.Newf(skberr.GuardBackoff, "backoff active until %s after %d consecutive failures",
		state.Until.Format(time.RFC3339), state.Consecutive)
}

// ConsumeQuestion counts one question against today's quota
func (g *Guard) ConsumeQuestion() {
	g.mu.Lock()
	g.rollDayLocked()
	g.questions++
	used, day := g.questions, g.quotaDay
	g.mu.Unlock()
	g.persistQuota(day, "questions", used)
}

// ConsumeExploration counts one exploration against today's quota
func (g *Guard) ConsumeExploration() {
	g.mu.Lock()
	g.rollDayLocked()
	g.explorations++
	used, day := g.explorations, g.quotaDay
	g.mu.Unlock()
	g.persistQuota(day, "explorations", used)
}

// dedupKey canonicalizes a tool call. json.Marshal sorts map keys, so
// two calls with the same parameters in different order collide as
// intended.
func dedupKey(name string, params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", params))
	}
	return name + ":" + string(data)
}

// ShouldSkipToolCall returns the cached result of an identical earlier
// call today, if any
func (g *Guard) ShouldSkipToolCall(name string, params map[string]interface{}) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	result, ok := g.toolResults[dedupKey(name, params)]
	return result, ok
}

// RecordToolCall caches a tool call's result for dedup
func (g *Guard) RecordToolCall(name string, params map[string]interface{}, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	g.toolResults[dedupKey(name, params)] = result
}

// RecordFailure grows the task's backoff window exponentially:
// base * 2^(n-1), capped at the configured maximum
func (g *Guard) RecordFailure(key string, cause error) {
	g.mu.Lock()
	state := g.backoffs[key]
	state.Consecutive++
	if cause != nil {
		state.LastError = cause.Error()
	}

	base := time.Duration(g.cfg.BackoffBaseMs) * time.Millisecond
	max := time.Duration(g.cfg.BackoffMaxMs) * time.Millisecond
	window := base * time.Duration(1<<uint(state.Consecutive-1))
	if window > max || window <= 0 {
		window = max
	}
	state.Until = g.now().Add(window)
	g.backoffs[key] = state
	g.mu.Unlock()

	g.logger.Warn("task entered backoff", map[string]interface{}{
		"key":      key,
		"failures": state.Consecutive,
		"until":    state.Until.Format(time.RFC3339),
	})
	g.persistBackoff(key, state)
}

// RecordSuccess clears the task's backoff state
func (g *Guard) RecordSuccess(key string) {
	g.mu.Lock()
	_, existed := g.backoffs[key]
	delete(g.backoffs, key)
	g.mu.Unlock()

	if existed {
		g.async(func() {
			if _, err := g.db.Exec(
				"DELETE FROM backoff_state WHERE project_key = ? AND task_key = ?",
				g.projectKey, key); err != nil {
				g.logger.Error("failed to clear backoff state", map[string]interface{}{
					"key": key, "error": err.Error(),
				})
			}
		})
	}
}

// Backoff returns the current backoff state of a task key
func (g *Guard) Backoff(key string) (BackoffState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.backoffs[key]
	return state, ok
}

// QuotaUsage returns today's consumed question and exploration counts
func (g *Guard) QuotaUsage() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.questions, g.explorations
}

func (g *Guard) persistBackoff(key string, state BackoffState) {
	g.async(func() {
		if _, err := g.db.Exec(
			`INSERT INTO backoff_state (project_key, task_key, failures, next_allowed)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_key, task_key) DO UPDATE SET
			   failures = excluded.failures, next_allowed = excluded.next_allowed`,
			g.projectKey, key, state.Consecutive, state.Until.Unix()); err != nil {
			g.logger.Error("failed to persist backoff state", map[string]interface{}{
				"key": key, "error": err.Error(),
			})
		}
	})
}

func (g *Guard) persistQuota(day, kind string, used int) {
	g.async(func() {
		if _, err := g.db.Exec(
			`INSERT INTO daily_quota (project_key, day, kind, used)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_key, day, kind) DO UPDATE SET used = excluded.used`,
			g.projectKey, day, kind, used); err != nil {
			g.logger.Error("failed to persist daily quota", map[string]interface{}{
				"day": day, "kind": kind, "error": err.Error(),
			})
		}
	})
}

// async schedules persistence work, falling back to synchronous
// execution when the queue is full
func (g *Guard) async(fn func()) {
	select {
	case g.persistCh <- fn:
	default:
		fn()
	}
}
