// Package jq post-processes an action's parsed OUTPUT marker (spec.md
// §4.4) through an optional jq expression, so an action can reshape or
// filter a command's raw output without an extra shell pipeline.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds a single jq expression's execution time.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxOutputSize bounds the marker's JSON payload before it's
	// handed to jq, so a runaway action can't stall step post-processing.
	DefaultMaxOutputSize = 10 * 1024 * 1024
)

// Executor evaluates a jq expression against a step's parsed output,
// with a timeout and an input size limit.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor builds an Executor; a zero timeout or maxInputSize takes
// the package default.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxOutputSize
	}
	return &Executor{timeout: timeout, maxInputSize: maxInputSize}
}

// Execute runs expression against data. An empty expression is a no-op
// that returns data unchanged, so callers don't need to branch on
// whether an action set Executor.OutputJQ.
func (e *Executor) Execute(ctx context.Context, expression string, data interface{}) (interface{}, error) {
	if expression == "" {
		return data, nil
	}

	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq: parsing %q: %w", expression, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq: compiling %q: %w", expression, err)
	}

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)
	go func() {
		iter := code.Run(data)
		var results []interface{}
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, fmt.Errorf("jq: evaluating %q: %w", expression, err)
	case <-execCtx.Done():
		return nil, fmt.Errorf("jq: %q exceeded %v", expression, e.timeout)
	}
}

// Validate compiles expression without running it, for catching a
// malformed output_jq at workspace-validate time rather than first run.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return fmt.Errorf("jq: invalid expression %q: %w", expression, err)
	}
	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("jq: %q failed to compile: %w", expression, err)
	}
	return nil
}

func (e *Executor) validateInputSize(data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("jq: marshaling output: %w", err)
	}
	if int64(len(encoded)) > e.maxInputSize {
		return fmt.Errorf("jq: output size %d bytes exceeds limit %d bytes", len(encoded), e.maxInputSize)
	}
	return nil
}
