package console

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/itohio/instamp/pkg/command"
)

// recorder answers every command with its line and remembers the order.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Dispatch(ctx context.Context, line string) (command.Result, bool) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	if line == connectedCmd || line == disconnectedCmd {
		return command.Result{}, false
	}
	if line == "bad" {
		return command.Result{Code: command.UnknownCommand, Message: "unknown"}, true
	}
	return command.OK(line), true
}

func (r *recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// pipeRW joins the host side of two pipes.
type pipeRW struct {
	io.Reader
	io.Writer
}

func TestServe(t *testing.T) {
	rec := &recorder{}
	c := New(rec, zaptest.NewLogger(t).Sugar())

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background(), pipeRW{inR, outW}) }()

	replies := bufio.NewScanner(outR)
	send := func(line string) command.Result {
		_, err := io.WriteString(inW, line)
		require.NoError(t, err)
		require.True(t, replies.Scan())
		var res command.Result
		require.NoError(t, json.Unmarshal(replies.Bytes(), &res))
		return res
	}

	res := send("status\n")
	assert.Equal(t, command.Ok, res.Code)
	assert.Equal(t, "status", res.Message)

	res = send("\n  \nbad\r\n")
	assert.Equal(t, command.UnknownCommand, res.Code)

	assert.True(t, c.IsConnected())
	require.NoError(t, inW.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return on EOF")
	}

	assert.Equal(t, []string{connectedCmd, "status", "bad", disconnectedCmd}, rec.Lines())
	assert.False(t, c.IsConnected())
}

func TestServe_SingleSession(t *testing.T) {
	c := New(&recorder{}, nil)

	inR, inW := io.Pipe()
	defer inW.Close()
	go c.Serve(context.Background(), pipeRW{inR, io.Discard})

	require.Eventually(t, c.IsConnected, time.Second, time.Millisecond)
	err := c.Serve(context.Background(), pipeRW{inR, io.Discard})
	assert.Error(t, err)
}

func TestServe_Cancelled(t *testing.T) {
	rec := &recorder{}
	c := New(rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	inR, inW := io.Pipe()

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, pipeRW{inR, io.Discard}) }()

	_, err := io.WriteString(inW, "first\n")
	require.NoError(t, err)
	cancel()
	// Closing the stream unblocks a pending read.
	require.NoError(t, inW.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, disconnectedCmd, rec.Lines()[len(rec.Lines())-1])
}

func TestSend_NotConnected(t *testing.T) {
	c := New(&recorder{}, nil)
	assert.Error(t, c.Send(command.OK("x")))
}
