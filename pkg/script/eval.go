package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = 5 * time.Second

// DefaultMaxSteps bounds the Starlark steps of a single script call.
const DefaultMaxSteps = 10_000_000

// Config configures script evaluation.
type Config struct {
	// Path is the script file. Empty disables scripting.
	Path string `mapstructure:"path" yaml:"path"`

	// Timeout bounds each call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`

	// MaxSteps bounds the computation of each call.
	MaxSteps uint64 `mapstructure:"max_steps" yaml:"max_steps"`
}

// Script is a compiled Starlark script. Its top-level functions may be
// called concurrently.
type Script struct {
	name     string
	globals  starlark.StringDict
	timeout  time.Duration
	maxSteps uint64
}

// Compile executes src once and freezes its globals.
func Compile(name, src string, cfg Config) (*Script, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	thread := newThread(name, cfg.MaxSteps)
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, name, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", name, describe(err))
	}
	globals.Freeze()

	return &Script{
		name:     name,
		globals:  globals,
		timeout:  cfg.Timeout,
		maxSteps: cfg.MaxSteps,
	}, nil
}

// Load compiles the script at cfg.Path.
func Load(cfg Config) (*Script, error) {
	src, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Compile(filepath.Base(cfg.Path), string(src), cfg)
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// Has reports whether the script defines a callable named fn.
func (s *Script) Has(fn string) bool {
	_, ok := s.globals[fn].(starlark.Callable)
	return ok
}

// Call invokes the top-level function fn with Go arguments and converts the
// result back to Go. The call is cancelled when ctx ends or the script's
// timeout passes.
func (s *Script) Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	callable, ok := s.globals[fn].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s does not define %s()", s.name, fn)
	}

	sargs := make(starlark.Tuple, len(args))
	for i, arg := range args {
		v, err := toStarlarkValue(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert argument %d of %s(): %w", i, fn, err)
		}
		sargs[i] = v
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := newThread(s.name, s.maxSteps)
	stop := context.AfterFunc(callCtx, func() {
		thread.Cancel(callCtx.Err().Error())
	})
	defer stop()

	result, err := starlark.Call(thread, callable, sargs, nil)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%s() cancelled: %w", fn, callCtx.Err())
		}
		return nil, fmt.Errorf("%s() failed: %w", fn, describe(err))
	}

	return fromStarlarkValue(result)
}

func newThread(name string, maxSteps uint64) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			// Suppress print
		},
	}
	thread.SetMaxExecutionSteps(maxSteps)
	return thread
}

func describe(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return errors.New(evalErr.Backtrace())
	}
	return err
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
