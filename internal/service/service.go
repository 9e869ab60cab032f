// Package service is the core wiring spec.md §6 describes only at the
// wire level: a registry of namespaces, each with its own Coordinator,
// exposed through the five transport-agnostic operations (Get, Update,
// Watch's Register/Remove, Trace's Subscribe, RunGC) that
// internal/transport drives over HTTP and WebSocket. Every operation
// passes through authz before touching a namespace.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/authz"
	"github.com/vitaliisemenov/mhconf/internal/coordinator"
	"github.com/vitaliisemenov/mhconf/internal/merge"
	"github.com/vitaliisemenov/mhconf/internal/metrics"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
	"github.com/vitaliisemenov/mhconf/internal/tracebus"
	"github.com/vitaliisemenov/mhconf/internal/watchbus"
)

// entry bundles one namespace's coordinator, scheduler, and trace bus.
type entry struct {
	coord *coordinator.Coordinator
	sched *coordinator.Scheduler
	trace *tracebus.Bus
}

// Service is the process-wide namespace registry (§5 "global namespace
// table"): every root_path the process has ever served gets exactly one
// entry, created lazily on first request and never evicted: the
// NAMESPACES GC pass run through Service.RunGC only reports whether the
// entry's Coordinator is eligible, and nothing removes the entry.
type Service struct {
	auth    authz.Authenticator
	fs      afero.Fs
	watch   watchbus.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	cacheCfg merge.CacheConfig
	windows  map[coordinator.GCPass]time.Duration
	periods  map[coordinator.GCPass]time.Duration

	mu         sync.RWMutex
	namespaces map[string]*entry
}

// Option configures optional Service dependencies; New supplies sane
// defaults (in-memory watch bus, no-op auth) when omitted.
type Option func(*Service)

// WithAuthenticator overrides the default allow-all authenticator.
func WithAuthenticator(a authz.Authenticator) Option {
	return func(s *Service) { s.auth = a }
}

// WithFilesystem overrides the default OS filesystem (tests use
// afero.NewMemMapFs()).
func WithFilesystem(fs afero.Fs) Option {
	return func(s *Service) { s.fs = fs }
}

// WithCacheConfig overrides the default merge cache generation windows.
func WithCacheConfig(cfg merge.CacheConfig) Option {
	return func(s *Service) { s.cacheCfg = cfg }
}

// WithGCSchedule overrides the default §4.E.3 windows/periods used when
// a namespace's Scheduler is started.
func WithGCSchedule(windows, periods map[coordinator.GCPass]time.Duration) Option {
	return func(s *Service) { s.windows, s.periods = windows, periods }
}

// WithMetricsRegistry overrides the default (new, unregistered) Prometheus
// registry metrics are recorded against.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(s *Service) { s.metrics = metrics.New(reg) }
}

// New builds a Service with no namespaces registered yet.
func New(logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		auth:       authz.AllowAllAuthenticator{},
		fs:         afero.NewOsFs(),
		watch:      watchbus.NewBus(logger, nil, 1000),
		metrics:    metrics.New(prometheus.NewRegistry()),
		logger:     logger.With("component", "service"),
		cacheCfg:   merge.DefaultCacheConfig(),
		namespaces: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the watch bus and every currently-registered
// namespace's GC scheduler.
func (s *Service) Start(ctx context.Context) error {
	if err := s.watch.Start(ctx); err != nil {
		return fmt.Errorf("start watch bus: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.namespaces {
		e.sched.Start(ctx)
	}
	return nil
}

// Stop tears down every namespace's scheduler and the watch bus.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.namespaces))
	for _, e := range s.namespaces {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	for _, e := range entries {
		e.sched.Stop()
	}
	return s.watch.Stop(ctx)
}

// validateRootPath enforces §6 "root_path must be a non-empty absolute
// path with no . or .. components".
func validateRootPath(rootPath string) error {
	if rootPath == "" {
		return &apierr.InvalidArgument{Field: "root_path", Reason: "must not be empty"}
	}
	if !path.IsAbs(rootPath) {
		return &apierr.InvalidArgument{Field: "root_path", Reason: "must be absolute"}
	}
	for _, seg := range strings.Split(rootPath, "/") {
		if seg == "." || seg == ".." {
			return &apierr.InvalidArgument{Field: "root_path", Reason: "must not contain . or .. components"}
		}
	}
	return nil
}

// validateDocument enforces §6 "document must be non-empty, contain no /".
func validateDocument(document string) error {
	if document == "" {
		return &apierr.InvalidArgument{Field: "document", Reason: "must not be empty"}
	}
	if strings.Contains(document, "/") {
		return &apierr.InvalidArgument{Field: "document", Reason: "must not contain /"}
	}
	return nil
}

// validateRelativePath enforces §6 "each a valid relative path, no .
// or .. components" for Update's relative_paths.
func validateRelativePath(p string) error {
	if p == "" || path.IsAbs(p) {
		return &apierr.InvalidArgument{Field: "relative_paths", Reason: "must be a non-empty relative path"}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return &apierr.InvalidArgument{Field: "relative_paths", Reason: "must not contain . or .. components"}
		}
	}
	return nil
}

// namespaceFor returns (creating and bootstrapping if absent) the entry
// serving rootPath.
func (s *Service) namespaceFor(rootPath string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.namespaces[rootPath]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	if e, ok = s.namespaces[rootPath]; ok {
		s.mu.Unlock()
		return e, nil
	}
	ns := nsconfig.New(rootPath, rootPath)
	cache, err := merge.NewCache(s.cacheCfg)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("construct merge cache for %s: %w", rootPath, err)
	}
	trace := tracebus.New()
	coord := coordinator.New(ns, s.fs, cache, s.watch, trace, s.metrics, s.logger)
	sched := coordinator.NewScheduler(coord, s.windows, s.periods)
	e = &entry{coord: coord, sched: sched, trace: trace}
	s.namespaces[rootPath] = e
	s.mu.Unlock()

	if err := coord.Bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap namespace %s: %w", rootPath, err)
	}
	sched.Start(context.Background())
	return e, nil
}

func (s *Service) authorize(ctx context.Context, rootPath, document, action, token string) error {
	decision, err := s.auth.Authenticate(ctx, authz.Request{RootPath: rootPath, Document: document, Action: action, Token: token})
	if err != nil {
		return &apierr.Unauthenticated{Reason: err.Error()}
	}
	if !decision.Allowed {
		return &apierr.PermissionDenied{Reason: decision.Reason}
	}
	return nil
}

// GetRequest is the transport-agnostic shape of §6's Get.
type GetRequest struct {
	RootPath     string
	Labels       nsconfig.Labels
	Document     string
	Version      uint64 // 0 = current
	LogLevel     string
	WithPosition bool
	Token        string
}

// GetResponse mirrors the OK-path fields §6 names for Get.
type GetResponse struct {
	NamespaceID string
	Version     uint64
	Element     merge.Result
	Checksum    [32]byte
}

// Get resolves a document against a namespace, creating and bootstrapping
// the namespace on first use.
func (s *Service) Get(ctx context.Context, req GetRequest) (GetResponse, error) {
	if err := validateRootPath(req.RootPath); err != nil {
		return GetResponse{}, err
	}
	if err := validateDocument(req.Document); err != nil {
		return GetResponse{}, err
	}
	if err := s.authorize(ctx, req.RootPath, req.Document, "get", req.Token); err != nil {
		return GetResponse{}, err
	}

	e, err := s.namespaceFor(req.RootPath)
	if err != nil {
		return GetResponse{}, err
	}
	if e.coord.NS.Status() == nsconfig.StatusDeleted {
		return GetResponse{}, &apierr.NamespaceDeleted{RootPath: req.RootPath, Reason: string(e.coord.NS.DeletionReason())}
	}

	var (
		res merge.Result
		rErr error
	)
	if req.Version == 0 {
		res, rErr = e.coord.Resolve(req.Document, req.Labels, "")
	} else {
		res, rErr = e.coord.ResolveAt(req.Document, req.Labels, "", req.Version)
	}
	if rErr != nil {
		e.trace.Emit(tracebus.Event{Kind: tracebus.KindError, NamespaceID: e.coord.NS.ID, Document: req.Document, Labels: req.Labels, At: time.Now()})
		return GetResponse{}, rErr
	}

	version := req.Version
	if version == 0 {
		version = e.coord.NS.CurrentVersion()
	}
	e.trace.Emit(tracebus.Event{Kind: tracebus.KindReturnedElements, NamespaceID: e.coord.NS.ID, Version: version, Document: req.Document, Labels: req.Labels, At: time.Now()})

	return GetResponse{
		NamespaceID: e.coord.NS.ID,
		Version:     version,
		Element:     res,
		Checksum:    res.Value.Checksum(),
	}, nil
}

// UpdateRequest is the transport-agnostic shape of §6's Update.
type UpdateRequest struct {
	RootPath      string
	Reload        bool
	RelativePaths []string
	Token         string
}

// UpdateResponse mirrors the OK-path fields §6 names for Update.
type UpdateResponse struct {
	NamespaceID string
	NewVersion  uint64
}

// Update applies a reindex against a namespace (§4.E.1), creating and
// bootstrapping the namespace on first use.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (UpdateResponse, error) {
	if err := validateRootPath(req.RootPath); err != nil {
		return UpdateResponse{}, err
	}
	if !req.Reload {
		for _, p := range req.RelativePaths {
			if err := validateRelativePath(p); err != nil {
				return UpdateResponse{}, err
			}
		}
	}
	if err := s.authorize(ctx, req.RootPath, "", "update", req.Token); err != nil {
		return UpdateResponse{}, err
	}

	e, err := s.namespaceFor(req.RootPath)
	if err != nil {
		return UpdateResponse{}, err
	}

	v, err := e.coord.ApplyUpdate(req.Reload, req.RelativePaths)
	if err != nil {
		return UpdateResponse{}, err
	}
	return UpdateResponse{NamespaceID: e.coord.NS.ID, NewVersion: v}, nil
}

// RegisterWatch attaches w to document in rootPath's namespace (§6
// Watch's Register).
func (s *Service) RegisterWatch(ctx context.Context, rootPath, document string, w *nsconfig.Watcher, token string) error {
	if err := validateRootPath(rootPath); err != nil {
		return err
	}
	if err := validateDocument(document); err != nil {
		return err
	}
	if err := s.authorize(ctx, rootPath, document, "watch", token); err != nil {
		return err
	}
	e, err := s.namespaceFor(rootPath)
	if err != nil {
		return err
	}
	return e.coord.RegisterWatcher(ctx, w, "")
}

// RemoveWatch detaches the watcher identified by uid (§6 Watch's Remove).
func (s *Service) RemoveWatch(ctx context.Context, rootPath, document, uid, token string) error {
	if err := validateRootPath(rootPath); err != nil {
		return err
	}
	if err := s.authorize(ctx, rootPath, document, "watch", token); err != nil {
		return err
	}
	e, err := s.namespaceFor(rootPath)
	if err != nil {
		return err
	}
	return e.coord.UnregisterWatcher(document, uid)
}

// SubscribeTrace attaches sink to rootPath's trace bus under selector
// (§6 Trace), returning an unsubscribe token.
func (s *Service) SubscribeTrace(ctx context.Context, rootPath string, selector tracebus.Selector, sink tracebus.Sink, token string) (uint64, error) {
	if err := validateRootPath(rootPath); err != nil {
		return 0, err
	}
	if err := s.authorize(ctx, rootPath, "", "trace", token); err != nil {
		return 0, err
	}
	e, err := s.namespaceFor(rootPath)
	if err != nil {
		return 0, err
	}
	return e.trace.Subscribe(selector, sink), nil
}

// UnsubscribeTrace removes a trace subscription created by SubscribeTrace.
func (s *Service) UnsubscribeTrace(rootPath string, tok uint64) {
	s.mu.RLock()
	e, ok := s.namespaces[rootPath]
	s.mu.RUnlock()
	if ok {
		e.trace.Unsubscribe(tok)
	}
}

// RunGC executes one GC pass against rootPath's namespace (§6 RunGC).
func (s *Service) RunGC(ctx context.Context, rootPath string, pass coordinator.GCPass, maxLive time.Duration, token string) (int, error) {
	if err := validateRootPath(rootPath); err != nil {
		return 0, err
	}
	if err := s.authorize(ctx, rootPath, "", "gc", token); err != nil {
		return 0, err
	}
	e, err := s.namespaceFor(rootPath)
	if err != nil {
		return 0, err
	}
	return e.coord.RunGC(pass, maxLive), nil
}
