package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/cache"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/pool"
	"github.com/taskmesh/taskmesh/ratelimit"
)

// record pairs a session entity with its exclusively-owned worker process.
// sendMu guards the proc field and serializes exchanges on it; it is never
// held together with the manager mutex.
type record struct {
	sess   *core.Session
	proc   core.WorkerProcess
	sendMu sync.Mutex
}

// Options configures a Manager.
type Options struct {
	// RatePerSecond and RateBurst shape the token bucket gating session
	// creation and message dispatch.
	RatePerSecond float64
	RateBurst     int

	// SessionCacheSize and SessionTTL bound the session lookup cache.
	SessionCacheSize int
	SessionTTL       time.Duration

	// ResponseCacheSize and ResponseTTL bound the exact-match response cache.
	ResponseCacheSize int
	ResponseTTL       time.Duration

	// CacheCleanupInterval drives the background janitors of both caches.
	CacheCleanupInterval time.Duration

	// WarmPoolSize enables a pool of pre-launched worker processes drawn on
	// session creation. Zero disables the pool.
	WarmPoolSize    int
	WarmPoolMaxIdle time.Duration

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Manager owns all sessions and their worker processes.
type Manager struct {
	launcher core.WorkerLauncher
	limiter  *ratelimit.Limiter
	opts     Options
	logger   logging.Logger

	mu       sync.RWMutex
	sessions map[string]*record

	sessionCache *cache.Cache[string, *core.Session]
	responses    *cache.Cache[string, string]
	warm         *pool.Pool[core.WorkerProcess]

	statsMu      sync.Mutex
	messages     uint64
	cacheHits    uint64
	recreates    uint64
	totalLatency time.Duration
}

// Stats is a point-in-time snapshot of session manager counters.
type Stats struct {
	Sessions          int                        `json:"sessions"`
	ByStatus          map[core.SessionStatus]int `json:"by_status"`
	Messages          uint64                     `json:"messages"`
	ResponseCacheHits uint64                     `json:"response_cache_hits"`
	ProcessRecreates  uint64                     `json:"process_recreates"`
	AvgLatency        time.Duration              `json:"avg_latency"`
	ResponseCache     cache.Stats                `json:"response_cache"`
}

// SendOptions controls a single SendMessage call.
type SendOptions struct {
	// UseCache permits returning an exact-match cached response. Matching is
	// byte-exact over (session id, message text); there is no semantic
	// matching.
	UseCache bool
}

// New creates a session manager around the given launcher.
func New(launcher core.WorkerLauncher, optFns ...func(o *Options)) *Manager {
	opts := Options{
		RatePerSecond:        2,
		RateBurst:            5,
		SessionCacheSize:     64,
		ResponseCacheSize:    256,
		ResponseTTL:          5 * time.Minute,
		CacheCleanupInterval: time.Minute,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	m := &Manager{
		launcher: launcher,
		limiter:  ratelimit.New(opts.RatePerSecond, opts.RateBurst),
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*record),
		sessionCache: cache.New[string, *core.Session](func(o *cache.Options) {
			o.MaxSize = opts.SessionCacheSize
			o.DefaultTTL = opts.SessionTTL
			o.CleanupInterval = opts.CacheCleanupInterval
			o.Logger = opts.Logger
		}),
		responses: cache.New[string, string](func(o *cache.Options) {
			o.MaxSize = opts.ResponseCacheSize
			o.DefaultTTL = opts.ResponseTTL
			o.CleanupInterval = opts.CacheCleanupInterval
			o.Logger = opts.Logger
		}),
	}

	if opts.WarmPoolSize > 0 {
		m.warm = pool.New(func(ctx context.Context) (core.WorkerProcess, error) {
			return launcher.Launch(ctx, "")
		}, func(o *pool.Options[core.WorkerProcess]) {
			o.MinSize = opts.WarmPoolSize
			o.MaxSize = opts.WarmPoolSize
			o.MaxIdleTime = opts.WarmPoolMaxIdle
			o.HealthCheck = func(p core.WorkerProcess) bool { return p.Alive() }
			o.Close = func(p core.WorkerProcess) { _ = p.Stop() }
			o.Logger = opts.Logger
		})
	}

	return m
}

// Start launches the cache janitors and pre-warms the process pool.
func (m *Manager) Start(ctx context.Context) {
	m.sessionCache.Start(ctx)
	m.responses.Start(ctx)
	if m.warm != nil {
		m.warm.Start(ctx)
	}
}

// Stop terminates every session and shuts down caches and pool.
func (m *Manager) Stop() {
	m.TerminateAll()
	if m.warm != nil {
		m.warm.Stop()
	}
	m.sessionCache.Stop()
	m.responses.Stop()
}

// CreateSession launches a new worker session for the project. The call is
// gated by the rate limiter; a launch failure leaves the session in the
// ERROR state and returns a CreateError.
func (m *Manager) CreateSession(ctx context.Context, project string) (*core.Session, error) {
	if err := m.limiter.Wait(ctx, 1); err != nil {
		return nil, err
	}

	sess := core.NewSession(project)
	rec := &record{sess: sess}
	m.mu.Lock()
	m.sessions[sess.ID] = rec
	m.mu.Unlock()

	proc, err := m.launchProcess(ctx, project)
	if err != nil {
		sess.SetStatus(core.SessionError)
		m.logger.Error("session create failed", "project", project, "error", err)
		return nil, &CreateError{Project: project, Err: err}
	}

	rec.sendMu.Lock()
	if rec.proc == nil {
		rec.proc = proc
		sess.SetToken(proc.Token())
	} else {
		// A concurrent sender found the record mid-creation and already
		// recreated a process; keep that one and discard ours.
		_ = proc.Stop()
	}
	rec.sendMu.Unlock()

	sess.SetStatus(core.SessionActive)
	m.sessionCache.Set(sess.ID, sess)
	m.logger.Info("session created", "session_id", sess.ID, "project", project)
	return sess.Clone(), nil
}

// GetSession returns a copy of the session, consulting the cache first and
// repopulating it from the registry on a miss. It returns nil when the
// session does not exist.
func (m *Manager) GetSession(id string) *core.Session {
	if sess, ok := m.sessionCache.Get(id); ok {
		return sess.Clone()
	}

	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	m.sessionCache.Set(id, rec.sess)
	return rec.sess.Clone()
}

// SendMessage dispatches text to the session's worker process and returns
// its reply. A dead process is detected lazily here and recreated exactly
// once before the failure surfaces as a WorkerError. Responses are cached by
// exact (session id, text) match for ResponseTTL.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string, optFns ...func(o *SendOptions)) (string, error) {
	sendOpts := SendOptions{UseCache: true}
	for _, fn := range optFns {
		fn(&sendOpts)
	}

	if err := m.limiter.Wait(ctx, 1); err != nil {
		return "", err
	}

	key := responseKey(sessionID, text)
	if sendOpts.UseCache {
		if resp, ok := m.responses.Get(key); ok {
			m.statsMu.Lock()
			m.cacheHits++
			m.statsMu.Unlock()
			m.logger.Debug("response cache hit", "session_id", sessionID)
			return resp, nil
		}
	}

	m.mu.RLock()
	rec, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	rec.sendMu.Lock()
	defer rec.sendMu.Unlock()

	recreated := false
	if rec.proc == nil || !rec.proc.Alive() {
		m.logger.Warn("worker process dead, recreating", "session_id", sessionID)
		if err := m.recreateProcess(ctx, rec); err != nil {
			rec.sess.SetStatus(core.SessionError)
			return "", &WorkerError{SessionID: sessionID, Err: err}
		}
		recreated = true
	}

	start := time.Now()
	out, err := rec.proc.Send(ctx, text)
	if err != nil && !recreated {
		m.logger.Warn("worker send failed, recreating process", "session_id", sessionID, "error", err)
		if rerr := m.recreateProcess(ctx, rec); rerr != nil {
			rec.sess.SetStatus(core.SessionError)
			return "", &WorkerError{SessionID: sessionID, Err: rerr}
		}
		out, err = rec.proc.Send(ctx, text)
	}
	if err != nil {
		rec.sess.SetStatus(core.SessionError)
		return "", &WorkerError{SessionID: sessionID, Err: err}
	}

	latency := time.Since(start)
	m.statsMu.Lock()
	m.messages++
	m.totalLatency += latency
	m.statsMu.Unlock()

	rec.sess.AddExchange("user", text)
	rec.sess.AddExchange("assistant", out)
	m.responses.Set(key, out)
	m.logger.Debug("message dispatched", "session_id", sessionID, "latency", latency)
	return out, nil
}

// SwitchProject returns an existing ACTIVE session for the project, or
// creates one when none exists or forceNew is set.
func (m *Manager) SwitchProject(ctx context.Context, project string, forceNew bool) (*core.Session, error) {
	if !forceNew {
		m.mu.RLock()
		for _, rec := range m.sessions {
			if rec.sess.Project == project && rec.sess.GetStatus() == core.SessionActive {
				sess := rec.sess.Clone()
				m.mu.RUnlock()
				return sess, nil
			}
		}
		m.mu.RUnlock()
	}
	return m.CreateSession(ctx, project)
}

// Terminate stops the session's worker process and destroys the session.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	rec, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	rec.sess.SetStatus(core.SessionStopping)
	rec.sendMu.Lock()
	if rec.proc != nil {
		if err := rec.proc.Stop(); err != nil {
			m.logger.Warn("worker stop failed", "session_id", id, "error", err)
		}
		rec.proc = nil
	}
	rec.sendMu.Unlock()
	rec.sess.SetStatus(core.SessionInactive)
	m.sessionCache.Delete(id)
	m.logger.Info("session terminated", "session_id", id)
	return nil
}

// TerminateAll destroys every session; used during shutdown.
func (m *Manager) TerminateAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Terminate(id)
	}
}

// Sessions returns copies of all sessions.
func (m *Manager) Sessions() []*core.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.sess.Clone())
	}
	return out
}

// Stats returns a snapshot of manager counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	byStatus := make(map[core.SessionStatus]int)
	total := len(m.sessions)
	for _, rec := range m.sessions {
		byStatus[rec.sess.GetStatus()]++
	}
	m.mu.RUnlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s := Stats{
		Sessions:          total,
		ByStatus:          byStatus,
		Messages:          m.messages,
		ResponseCacheHits: m.cacheHits,
		ProcessRecreates:  m.recreates,
		ResponseCache:     m.responses.Stats(),
	}
	if m.messages > 0 {
		s.AvgLatency = m.totalLatency / time.Duration(m.messages)
	}
	return s
}

// launchProcess obtains a worker process, preferring the warm pool when one
// is configured.
func (m *Manager) launchProcess(ctx context.Context, project string) (core.WorkerProcess, error) {
	if m.warm != nil {
		if lease, err := m.warm.Acquire(ctx); err == nil {
			proc := lease.Detach()
			if binder, ok := proc.(core.ProjectBinder); ok {
				binder.BindProject(project)
			}
			m.logger.Debug("worker process drawn from warm pool", "project", project)
			return proc, nil
		}
		m.logger.Debug("warm pool unavailable, launching directly", "project", project)
	}
	return m.launcher.Launch(ctx, project)
}

// recreateProcess replaces a dead worker process in place, keeping the
// session entity and its history. Caller must hold rec.sendMu.
func (m *Manager) recreateProcess(ctx context.Context, rec *record) error {
	if rec.proc != nil {
		_ = rec.proc.Stop()
	}
	rec.sess.SetStatus(core.SessionStarting)
	proc, err := m.launchProcess(ctx, rec.sess.Project)
	if err != nil {
		return err
	}
	rec.proc = proc
	rec.sess.SetToken(proc.Token())
	rec.sess.SetStatus(core.SessionActive)

	m.statsMu.Lock()
	m.recreates++
	m.statsMu.Unlock()
	m.logger.Info("worker process recreated", "session_id", rec.sess.ID)
	return nil
}

// responseKey computes the deterministic cache key for one exchange: a
// sha256 over the session id and the exact message text.
func responseKey(sessionID, text string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
