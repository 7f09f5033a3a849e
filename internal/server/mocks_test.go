package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cristianradulescu/mdfence-ls/internal/container"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

type sentMessage struct {
	method string
	params interface{}
}

// mockConn records everything the server sends and accepts every edit.
type mockConn struct {
	mu            sync.Mutex
	calls         []sentMessage
	notifications []sentMessage
	rejectEdits   bool
	closed        bool
}

func (c *mockConn) Call(ctx context.Context, method string, params, result interface{}) (jsonrpc2.ID, error) {
	c.mu.Lock()
	c.calls = append(c.calls, sentMessage{method: method, params: params})
	reject := c.rejectEdits
	c.mu.Unlock()

	if method == protocol.MethodWorkspaceApplyEdit {
		data, _ := json.Marshal(protocol.ApplyWorkspaceEditResponse{Applied: !reject, FailureReason: "rejected"})
		if err := json.Unmarshal(data, result); err != nil {
			return jsonrpc2.ID{}, err
		}
	}
	return jsonrpc2.NewNumberID(1), nil
}

func (c *mockConn) Notify(ctx context.Context, method string, params interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, sentMessage{method: method, params: params})
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) Calls(method string) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found []sentMessage
	for _, call := range c.calls {
		if call.method == method {
			found = append(found, call)
		}
	}
	return found
}

func (c *mockConn) Notifications(method string) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found []sentMessage
	for _, n := range c.notifications {
		if n.method == method {
			found = append(found, n)
		}
	}
	return found
}

// messages returns the texts of all window/showMessage notifications.
func (c *mockConn) messages() []string {
	var texts []string
	for _, n := range c.Notifications(protocol.MethodWindowShowMessage) {
		if params, ok := n.params.(*protocol.ShowMessageParams); ok {
			texts = append(texts, params.Message)
		}
	}
	return texts
}

// nopRunner fails every command so no external process is started.
type nopRunner struct{}

func (nopRunner) Execute(ctx context.Context, containerName string, containerCmd string, stdin string) *container.CommandResult {
	return &container.CommandResult{ExitCode: 127, Err: errors.New("command not available")}
}

type replyRecorder struct {
	mu     sync.Mutex
	called bool
	result interface{}
	err    error
}

func (r *replyRecorder) reply(ctx context.Context, result interface{}, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called = true
	r.result = result
	r.err = err
	return nil
}
