// Package client talks to the amplifier HTTP API.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req"

	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/api"
	"github.com/itohio/instamp/pkg/command"
)

// Client is an API client.
type Client struct {
	ApiPrefix string
}

// New creates a client for addr, either host:port or a base URL.
func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		addr = "http://" + addr
	}
	return &Client{ApiPrefix: strings.TrimRight(addr, "/") + "/api"}
}

func (c *Client) url(path string) string {
	return c.ApiPrefix + path
}

func checkStatus(r *req.Resp) error {
	if r.Response().StatusCode != http.StatusOK {
		return errors.New(r.Response().Status)
	}
	return nil
}

// Status returns the current snapshot.
func (c *Client) Status() (amp.Snapshot, error) {
	var s amp.Snapshot
	r, err := req.Get(c.url("/status"))
	if err != nil {
		return s, err
	}
	if err := checkStatus(r); err != nil {
		return s, err
	}
	err = r.ToJSON(&s)
	return s, err
}

// History returns at most points snapshots and the recorded bursts.
func (c *Client) History(points int) (api.HistoryResponse, error) {
	var h api.HistoryResponse
	r, err := req.Get(c.url("/history"), req.Param{"points": points})
	if err != nil {
		return h, err
	}
	if err := checkStatus(r); err != nil {
		return h, err
	}
	err = r.ToJSON(&h)
	return h, err
}

// Registers returns the ADC register file.
func (c *Client) Registers() ([]api.RegHex, error) {
	r, err := req.Get(c.url("/regs"))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(r); err != nil {
		return nil, err
	}
	var regs []api.RegHex
	err = r.ToJSON(&regs)
	return regs, err
}

// Command executes a command line. Rejected commands are not an error: the
// result carries the code. ok is false for commands without a reply.
func (c *Client) Command(line string) (res command.Result, ok bool, err error) {
	r, err := req.Post(c.url("/command"), req.BodyJSON(api.CommandRequest{Command: line}))
	if err != nil {
		return res, false, err
	}
	switch r.Response().StatusCode {
	case http.StatusNoContent:
		return res, false, nil
	case http.StatusOK, http.StatusNotFound, http.StatusBadRequest, http.StatusInternalServerError:
		if err := r.ToJSON(&res); err != nil {
			return res, false, fmt.Errorf("%s: %w", r.Response().Status, err)
		}
		return res, true, nil
	}
	return res, false, errors.New(r.Response().Status)
}
