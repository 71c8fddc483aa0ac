package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/harvest/internal/skipblock"
)

// RunOptions are the flags a run starts with.
type RunOptions struct {
	// SkipMode starts the run with every statement suppressed. Only useful
	// together with SimulateErrorAtIteration style debugging.
	SkipMode bool `json:"skip_mode,omitempty" yaml:"skip_mode,omitempty"`
	// BreakMode starts the run with the outermost loop already broken.
	BreakMode bool `json:"break_mode,omitempty" yaml:"break_mode,omitempty"`
	// SkipCommitInThisIteration suppresses skip block commits until the
	// first loop iteration ends.
	SkipCommitInThisIteration bool `json:"skip_commit_in_this_iteration,omitempty" yaml:"skip_commit_in_this_iteration,omitempty"`
	// SimulateErrorAtIteration makes that iteration (1-based, counted per
	// loop) behave as if replay could not find its node. 0 disables it.
	SimulateErrorAtIteration int `json:"simulate_error_at_iteration,omitempty" yaml:"simulate_error_at_iteration,omitempty"`

	Parallel      bool                `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	HashPartition skipblock.Partition `json:"hash_partition,omitempty" yaml:"hash_partition,omitempty"`

	IgnoreEntityScope          bool `json:"ignore_entity_scope,omitempty" yaml:"ignore_entity_scope,omitempty"`
	BreakAfterDuplicatesInARow int  `json:"break_after_duplicates_in_a_row,omitempty" yaml:"break_after_duplicates_in_a_row,omitempty"`

	DatasetID string `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	// KeepWindow replays into the current window instead of opening one.
	KeepWindow bool `json:"keep_window,omitempty" yaml:"keep_window,omitempty"`
	// MaxSteps bounds scheduler steps per run. 0 means no bound.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	// Parameters override the program's default parameter bindings.
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

type optionSetter func(o *RunOptions, v any) error

var optionSetters = map[string]optionSetter{
	"skip_mode":                       boolOpt(func(o *RunOptions, b bool) { o.SkipMode = b }),
	"break_mode":                      boolOpt(func(o *RunOptions, b bool) { o.BreakMode = b }),
	"skip_commit_in_this_iteration":   boolOpt(func(o *RunOptions, b bool) { o.SkipCommitInThisIteration = b }),
	"simulate_error_at_iteration":     intOpt(func(o *RunOptions, n int) { o.SimulateErrorAtIteration = n }),
	"parallel":                        boolOpt(func(o *RunOptions, b bool) { o.Parallel = b }),
	"hash_partition":                  setPartition,
	"ignore_entity_scope":             boolOpt(func(o *RunOptions, b bool) { o.IgnoreEntityScope = b }),
	"break_after_duplicates_in_a_row": intOpt(func(o *RunOptions, n int) { o.BreakAfterDuplicatesInARow = n }),
	"dataset_id":                      stringOpt(func(o *RunOptions, s string) { o.DatasetID = s }),
	"keep_window":                     boolOpt(func(o *RunOptions, b bool) { o.KeepWindow = b }),
	"max_steps":                       intOpt(func(o *RunOptions, n int) { o.MaxSteps = n }),
	"parameters":                      setParameters,
}

// OptionNames lists the accepted run option keys.
func OptionNames() []string {
	names := make([]string, 0, len(optionSetters))
	for k := range optionSetters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ParseRunOptions builds RunOptions from loosely typed values, such as a
// decoded YAML mapping or "key=value" flags. Unknown keys are rejected
// with an ErrCodeUnknownOption RuntimeError; keys are checked in sorted
// order so the reported key is deterministic.
func ParseRunOptions(raw map[string]any) (RunOptions, error) {
	var opts RunOptions
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set, ok := optionSetters[k]
		if !ok {
			return RunOptions{}, NewUnknownOptionError(k)
		}
		if err := set(&opts, raw[k]); err != nil {
			return RunOptions{}, NewInvalidOptionError(k, err)
		}
	}
	if err := opts.Validate(); err != nil {
		return RunOptions{}, err
	}
	return opts, nil
}

// Validate checks option values that only make sense together.
func (o RunOptions) Validate() error {
	if o.HashPartition.Workers != 0 && !o.HashPartition.Valid() {
		return NewInvalidOptionError("hash_partition",
			fmt.Errorf("index %d out of range for %d workers", o.HashPartition.Index, o.HashPartition.Workers))
	}
	for k, n := range map[string]int{
		"simulate_error_at_iteration":     o.SimulateErrorAtIteration,
		"break_after_duplicates_in_a_row": o.BreakAfterDuplicatesInARow,
		"max_steps":                       o.MaxSteps,
	} {
		if n < 0 {
			return NewInvalidOptionError(k, fmt.Errorf("negative value %d", n))
		}
	}
	return nil
}

func boolOpt(set func(*RunOptions, bool)) optionSetter {
	return func(o *RunOptions, v any) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		set(o, b)
		return nil
	}
}

func intOpt(set func(*RunOptions, int)) optionSetter {
	return func(o *RunOptions, v any) error {
		n, err := toInt(v)
		if err != nil {
			return err
		}
		set(o, n)
		return nil
	}
}

func stringOpt(set func(*RunOptions, string)) optionSetter {
	return func(o *RunOptions, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		set(o, s)
		return nil
	}
}

// setPartition accepts {workers: N, index: i} or "i/N".
func setPartition(o *RunOptions, v any) error {
	switch val := v.(type) {
	case string:
		idx, workers, ok := strings.Cut(val, "/")
		if !ok {
			return fmt.Errorf("want index/workers, got %q", val)
		}
		i, err := toInt(strings.TrimSpace(idx))
		if err != nil {
			return err
		}
		n, err := toInt(strings.TrimSpace(workers))
		if err != nil {
			return err
		}
		o.HashPartition = skipblock.Partition{Workers: n, Index: i}
		return nil
	case map[string]any:
		for k := range val {
			if k != "workers" && k != "index" {
				return fmt.Errorf("unknown hash_partition field %q", k)
			}
		}
		n, err := toInt(val["workers"])
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		i := 0
		if raw, ok := val["index"]; ok {
			if i, err = toInt(raw); err != nil {
				return fmt.Errorf("index: %w", err)
			}
		}
		o.HashPartition = skipblock.Partition{Workers: n, Index: i}
		return nil
	default:
		return fmt.Errorf("want mapping or index/workers, got %T", v)
	}
}

func setParameters(o *RunOptions, v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("want mapping, got %T", v)
	}
	o.Parameters = make(map[string]string, len(m))
	for k, raw := range m {
		switch val := raw.(type) {
		case string:
			o.Parameters[k] = val
		case bool, int, int64, float64:
			o.Parameters[k] = fmt.Sprint(val)
		default:
			return fmt.Errorf("parameter %q: want scalar, got %T", k, raw)
		}
	}
	return nil
}

func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("want boolean, got %q", val)
		}
		return b, nil
	default:
		return false, fmt.Errorf("want boolean, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("want integer, got %v", val)
		}
		return int(val), nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("want integer, got %q", val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}
