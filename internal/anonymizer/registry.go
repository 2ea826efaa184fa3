package anonymizer

import (
	"fmt"
	"sort"
	"sync"

	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
	"text-anonymizer/internal/recognizer"
)

// Factory builds a recognizer for one profile.
type Factory func(p *profile.Profile) (entity.Recognizer, error)

// Registry maps stable recognizer identifiers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding every built-in pattern group and
// both list recognizers. External detectors are added with Register.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, group := range []string{
		profile.GroupEmail,
		profile.GroupPhone,
		profile.GroupSSN,
		profile.GroupFilename,
		profile.GroupIP,
		profile.GroupIBAN,
		profile.GroupRegistrationPlate,
		profile.GroupAddress,
		profile.GroupProperty,
		profile.GroupCustomRegex,
	} {
		r.factories[group] = patternFactory(group)
	}
	r.factories[profile.RecognizerGrantList] = func(p *profile.Profile) (entity.Recognizer, error) {
		return recognizer.NewList(profile.RecognizerGrantList, recognizer.Grant, p), nil
	}
	r.factories[profile.RecognizerBlockList] = func(p *profile.Profile) (entity.Recognizer, error) {
		return recognizer.NewList(profile.RecognizerBlockList, recognizer.Block, p), nil
	}
	return r
}

func patternFactory(group string) Factory {
	return func(p *profile.Profile) (entity.Recognizer, error) {
		return recognizer.NewPattern(group, p.PatternsInGroup(group))
	}
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// IDs returns every registered identifier, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve builds the recognizers named by ids for p. An empty ids selects
// the profile's default set. Duplicates are ignored. Any unknown id fails
// the whole resolution before a recognizer is constructed.
func (r *Registry) Resolve(p *profile.Profile, ids []string) ([]entity.Recognizer, error) {
	if len(ids) == 0 {
		ids = p.Recognizers
	}

	r.mu.RLock()
	seen := make(map[string]bool, len(ids))
	factories := make([]Factory, 0, len(ids))
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := r.factories[id]
		if !ok {
			r.mu.RUnlock()
			return nil, &profile.ConfigError{Kind: profile.KindRecognizer, Subject: id, Err: ErrUnknownRecognizer}
		}
		factories = append(factories, f)
		names = append(names, id)
	}
	r.mu.RUnlock()

	out := make([]entity.Recognizer, 0, len(factories))
	for i, f := range factories {
		rec, err := f(p)
		if err != nil {
			if profile.IsConfigError(err) {
				return nil, err
			}
			return nil, &profile.ConfigError{Kind: profile.KindRecognizer, Subject: names[i], Err: fmt.Errorf("build: %w", err)}
		}
		out = append(out, rec)
	}
	return out, nil
}
