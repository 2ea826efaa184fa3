package main

import (
	"errors"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/detector"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/profile"
)

// newService builds the recognizer registry, including the external
// detectors, and the engine service on top of it.
func (a *app) newService() (*anonymizer.Service, *profile.Loader, error) {
	reg, err := a.newRegistry()
	if err != nil {
		return nil, nil, err
	}
	loader := profile.NewLoader(a.cfg.ConfigDir)
	svc, err := anonymizer.NewService(loader, reg, anonymizer.ServiceOptions{
		DefaultProfile: a.cfg.DefaultProfile,
		Recognizers:    a.cfg.Recognizers,
		Metrics:        a.metrics,
		Logger:         a.log.Module("SERVICE"),
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, loader, nil
}

// newRegistry returns the built-in recognizers plus the NER and Ollama
// adapters. Both adapters share one detection cache unless caching is
// disabled; selecting an adapter whose endpoint is not configured is a
// configuration error.
func (a *app) newRegistry() (*anonymizer.Registry, error) {
	reg := anonymizer.NewRegistry()
	cache, err := a.openCache()
	if err != nil {
		return nil, err
	}

	reg.Register(detector.NERName, func(*profile.Profile) (entity.Recognizer, error) {
		if a.cfg.NERURL == "" {
			return nil, errors.New("nerURL is not configured")
		}
		ner := detector.NewNER(detector.NEROptions{
			URL:         a.cfg.NERURL,
			Entities:    a.cfg.NEREntities,
			Score:       a.cfg.NERScore,
			RuneOffsets: a.cfg.NERRuneOffsets,
			Timeout:     a.cfg.ExternalTimeout,
		})
		return a.withCache(ner, cache, "NER"), nil
	})
	reg.Register(detector.OllamaName, func(*profile.Profile) (entity.Recognizer, error) {
		if a.cfg.OllamaEndpoint == "" || a.cfg.OllamaModel == "" {
			return nil, errors.New("ollamaEndpoint and ollamaModel must be configured")
		}
		ollama := detector.NewOllama(detector.OllamaOptions{
			Endpoint:  a.cfg.OllamaEndpoint,
			Model:     a.cfg.OllamaModel,
			Threshold: a.cfg.OllamaThreshold,
			Timeout:   a.cfg.ExternalTimeout,
		})
		return a.withCache(ollama, cache, "OLLAMA"), nil
	})
	return reg, nil
}

func (a *app) withCache(r entity.Recognizer, cache detector.PersistentCache, module string) entity.Recognizer {
	if cache == nil {
		return r
	}
	return detector.NewCached(r, cache, a.metrics, a.log.Module(module))
}

// openCache returns the S3-FIFO detection cache, persisted in bbolt when a
// cache path is configured and kept in memory otherwise. It returns nil when
// caching is disabled.
func (a *app) openCache() (detector.PersistentCache, error) {
	if a.cfg.DisableCache {
		return nil, nil
	}
	log := a.log.Module("CACHE")
	backing := detector.NewMemoryCache()
	if a.cfg.CachePath != "" {
		bolt, err := detector.OpenBoltCache(a.cfg.CachePath, log)
		if err != nil {
			return nil, err
		}
		backing = bolt
	}
	cache := detector.NewS3FIFOCache(backing, a.cfg.CacheCapacity, log)
	a.closers = append(a.closers, cache.Close)
	return cache, nil
}
