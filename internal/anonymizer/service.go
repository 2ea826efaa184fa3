package anonymizer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
	"text-anonymizer/internal/profile"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// DefaultProfile is used when a caller names no profile.
	DefaultProfile string
	// Recognizers overrides every profile's default recognizer set when a
	// caller names none. Empty keeps the profile's own set.
	Recognizers []string

	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Service hands out engines per (profile, recognizer set) and rebuilds them
// when a profile changes on disk. Engines are immutable; a reload swaps in
// new ones while in-flight analyses finish on the old.
type Service struct {
	loader   *profile.Loader
	registry *Registry
	opts     ServiceOptions
	log      *logger.Logger

	mu       sync.RWMutex
	profiles map[string]*profile.Profile
	engines  map[string]*Engine
	group    singleflight.Group
}

// NewService loads the default profile and builds its engine so that
// configuration errors surface at startup.
func NewService(loader *profile.Loader, registry *Registry, opts ServiceOptions) (*Service, error) {
	if opts.DefaultProfile == "" {
		opts.DefaultProfile = profile.DefaultName
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	s := &Service{
		loader:   loader,
		registry: registry,
		opts:     opts,
		log:      opts.Logger,
		profiles: make(map[string]*profile.Profile),
		engines:  make(map[string]*Engine),
	}
	if _, err := s.Engine("", nil); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultProfile returns the profile used when callers name none.
func (s *Service) DefaultProfile() string { return s.opts.DefaultProfile }

// Engine returns the engine for the named profile and recognizer ids. Empty
// values select the defaults. Errors are *profile.ConfigError.
func (s *Service) Engine(name string, ids []string) (*Engine, error) {
	if name == "" {
		name = s.opts.DefaultProfile
	}
	if len(ids) == 0 {
		ids = s.opts.Recognizers
	}
	key := engineKey(name, ids)

	s.mu.RLock()
	e, ok := s.engines[key]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		p, err := s.profile(name)
		if err != nil {
			return nil, err
		}
		e, err := s.build(p, ids)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		// A reload may have replaced the profile while building.
		if s.profiles[name] == p {
			s.engines[key] = e
		}
		s.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// Reload re-reads the named profile and rebuilds every cached engine using
// it. Profiles that were never loaded are skipped. On failure the previous
// profile and engines stay in service and the error is logged and returned.
func (s *Service) Reload(name string) error {
	s.mu.RLock()
	_, known := s.profiles[name]
	var keys []string
	for key := range s.engines {
		if profileOfKey(key) == name {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()
	if !known {
		s.log.Debugf("reload", "profile %s not in use, nothing to rebuild", name)
		return nil
	}

	p, err := s.loader.Load(name)
	if err != nil {
		s.log.Errorf("reload", "profile %s: keeping previous configuration: %v", name, err)
		return err
	}

	rebuilt := make(map[string]*Engine, len(keys))
	for _, key := range keys {
		e, err := s.build(p, idsOfKey(key))
		if err != nil {
			s.log.Errorf("reload", "profile %s: keeping previous configuration: %v", name, err)
			return err
		}
		rebuilt[key] = e
	}

	s.mu.Lock()
	s.profiles[name] = p
	for key := range s.engines {
		if profileOfKey(key) == name {
			delete(s.engines, key)
		}
	}
	for key, e := range rebuilt {
		s.engines[key] = e
	}
	s.mu.Unlock()

	s.log.Infof("reload", "profile %s reloaded (%d engines rebuilt)", name, len(rebuilt))
	return nil
}

// Profiles lists the profiles available in the config directory.
func (s *Service) Profiles() ([]string, error) {
	return s.loader.List()
}

// Recognizers lists every registered recognizer identifier.
func (s *Service) Recognizers() []string {
	return s.registry.IDs()
}

func (s *Service) profile(name string) (*profile.Profile, error) {
	s.mu.RLock()
	p, ok := s.profiles[name]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := s.loader.Load(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if cur, ok := s.profiles[name]; ok {
		p = cur
	} else {
		s.profiles[name] = p
	}
	s.mu.Unlock()
	return p, nil
}

func (s *Service) build(p *profile.Profile, ids []string) (*Engine, error) {
	recs, err := s.registry.Resolve(p, ids)
	if err != nil {
		return nil, err
	}
	e := NewEngine(p, recs,
		WithMetrics(s.opts.Metrics),
		WithLogger(s.log.Module("ENGINE")),
	)
	s.log.Debugf("engine", "built engine for profile %s with %d recognizers", p.Name, len(recs))
	return e, nil
}

// engineKey is "<profile>\x00<sorted ids>". Recognizer order does not change
// the merge result, so permutations share one engine.
func engineKey(name string, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s\x00%s", name, strings.Join(sorted, ","))
}

func profileOfKey(key string) string {
	name, _, _ := strings.Cut(key, "\x00")
	return name
}

func idsOfKey(key string) []string {
	_, ids, _ := strings.Cut(key, "\x00")
	if ids == "" {
		return nil
	}
	return strings.Split(ids, ",")
}
