package oracle

import (
	"context"
	"errors"
	"fmt"
)

type Task string

const (
	TaskDecompose Task = "decompose"
	TaskJudge     Task = "judge"
	TaskCallback  Task = "callback"
	TaskSummarize Task = "summarize"
)

var (
	ErrTimeout           = errors.New("oracle call timed out")
	ErrMalformedResponse = errors.New("oracle returned a malformed response")
	ErrUnavailable       = errors.New("oracle unavailable")
)

type Request struct {
	Task   Task
	Name   string
	Prompt string
	// Schema is the JSON schema of the expected response.
	Schema any
}

// Oracle is a semantic decision provider. It returns the raw response text;
// decoding and validation belong to Caller.
type Oracle interface {
	Decide(ctx context.Context, req Request) (string, error)
}

// Validator is implemented by response shapes that carry constraints beyond
// what JSON decoding checks.
type Validator interface {
	Validate() error
}

type Error struct {
	Task     Task
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle %s failed after %d attempt(s): %v", e.Task, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
