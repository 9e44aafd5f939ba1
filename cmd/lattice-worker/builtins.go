package main

import (
	"fmt"

	"github.com/lattice-run/lattice/pkg/worker"
)

// registerBuiltins wires the small set of entrypoints this reference
// harness ships with. A real deployment links its own entrypoints into
// a language-specific build of this binary; these cover the seed
// scenarios of spec §8 (S1 sequential prefixing, S2 diamond
// sum/max/combine) so the harness is runnable out of the box.
func registerBuiltins(r *worker.Registry) {
	r.Register("prefix", func(args map[string]any) (any, error) {
		name, _ := args["name"].(string)
		input, _ := args["input"].(string)
		return name + ":" + input, nil
	})

	r.Register("sum", func(args map[string]any) (any, error) {
		nums, ok := args["values"].([]any)
		if !ok {
			return nil, fmt.Errorf("sum: expected values to be a list")
		}
		total := 0.0
		for _, n := range nums {
			f, ok := n.(float64)
			if !ok {
				return nil, fmt.Errorf("sum: non-numeric element")
			}
			total += f
		}
		return total, nil
	})

	r.Register("max", func(args map[string]any) (any, error) {
		nums, ok := args["values"].([]any)
		if !ok || len(nums) == 0 {
			return nil, fmt.Errorf("max: expected a non-empty list of values")
		}
		best, ok := nums[0].(float64)
		if !ok {
			return nil, fmt.Errorf("max: non-numeric element")
		}
		for _, n := range nums[1:] {
			f, ok := n.(float64)
			if !ok {
				return nil, fmt.Errorf("max: non-numeric element")
			}
			if f > best {
				best = f
			}
		}
		return best, nil
	})

	r.Register("add", func(args map[string]any) (any, error) {
		s, sok := args["s"].(float64)
		m, mok := args["m"].(float64)
		if !sok || !mok {
			return nil, fmt.Errorf("add: expected numeric s and m")
		}
		return s + m, nil
	})

	r.Register("identity", func(args map[string]any) (any, error) {
		return args["input"], nil
	})
}
