// Package registry builds configured sinks by type name.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/sink"
	"firestige.xyz/trapd/internal/sink/console"
	"firestige.xyz/trapd/internal/sink/file"
	"firestige.xyz/trapd/internal/sink/kafka"
	"firestige.xyz/trapd/internal/sink/memory"
	"firestige.xyz/trapd/internal/sink/sqlite"
)

// Factory creates a sink from its raw options.
type Factory func(options map[string]any) (sink.Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

func init() {
	Register(console.Name, func(options map[string]any) (sink.Sink, error) {
		var cfg console.Config
		if err := Decode(options, &cfg); err != nil {
			return nil, err
		}
		return console.New(cfg)
	})
	Register(memory.Name, func(options map[string]any) (sink.Sink, error) {
		var cfg memory.Config
		if err := Decode(options, &cfg); err != nil {
			return nil, err
		}
		return memory.New(cfg), nil
	})
	Register(file.Name, func(options map[string]any) (sink.Sink, error) {
		var cfg file.Config
		if err := Decode(options, &cfg); err != nil {
			return nil, err
		}
		return file.New(cfg)
	})
	Register(sqlite.Name, func(options map[string]any) (sink.Sink, error) {
		var cfg sqlite.Config
		if err := Decode(options, &cfg); err != nil {
			return nil, err
		}
		return sqlite.New(cfg)
	})
	Register(kafka.Name, func(options map[string]any) (sink.Sink, error) {
		var cfg kafka.Config
		if err := Decode(options, &cfg); err != nil {
			return nil, err
		}
		return kafka.New(cfg)
	})
}

// Register adds a factory under name, replacing any previous one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Types lists registered sink types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode converts loosely typed options (as produced by YAML or viper)
// into a typed config. Unknown keys are rejected; strings such as "5s"
// decode into time.Duration fields.
func Decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

// Build creates every configured sink and wraps them in a fanout. If any
// sink fails to build, the ones already created are closed.
func Build(cfgs []config.SinkConfig) (*sink.Fanout, error) {
	built := make([]sink.Sink, 0, len(cfgs))
	for i, c := range cfgs {
		mu.RLock()
		f, ok := factories[c.Type]
		mu.RUnlock()

		if !ok {
			closeAll(built)
			return nil, fmt.Errorf("sinks[%d]: %w: %q", i, core.ErrSinkUnknownType, c.Type)
		}

		s, err := f(c.Options)
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("sinks[%d] (%s): %w", i, c.Type, err)
		}
		built = append(built, s)
	}
	return sink.NewFanout(built...), nil
}

func closeAll(sinks []sink.Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
