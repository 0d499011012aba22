package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	defaultEnvLoaded sync.Once

	cacheMu sync.RWMutex
	cache   = make(map[string]any)
)

// Load parses environment variables into the provided configuration struct
// based on its `env` field tags. The first call loads a .env file when one is
// present. Each configuration type is parsed once per process; subsequent
// calls for the same type return the cached value.
//
// Example:
//
//	type QueueConfig struct {
//		MaxWorkers   int           `env:"QUEUE_MAX_WORKERS" envDefault:"4"`
//		PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"250ms"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil {
//		// handle error
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	defaultEnvLoaded.Do(func() {
		// The .env file is optional; a missing file is not an error.
		_ = godotenv.Load()
	})

	key := typeName[T]()

	cacheMu.RLock()
	cached, ok := cache[key]
	cacheMu.RUnlock()
	if ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cacheMu.Lock()
	cache[key] = *v
	cacheMu.Unlock()

	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

func typeName[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}
