package formatting

import (
	"context"
	"sync"

	"github.com/cristianradulescu/mdfence-ls/internal/container"
)

type execCall struct {
	container string
	cmd       string
	stdin     string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []execCall
	result func(call execCall) *container.CommandResult
}

func (r *fakeRunner) Execute(ctx context.Context, containerName string, containerCmd string, stdin string) *container.CommandResult {
	call := execCall{container: containerName, cmd: containerCmd, stdin: stdin}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	if r.result == nil {
		return &container.CommandResult{Stdout: []byte(stdin)}
	}
	return r.result(call)
}

func (r *fakeRunner) Calls() []execCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]execCall(nil), r.calls...)
}
