/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package control

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// RawResponse is a Response whose data is left undecoded.
type RawResponse struct {
	ID   int64           `json:"id"`
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data"`
}

// Client issues requests over a control socket connection.
type Client struct {
	mutex   sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	nextID  int64
	timeout time.Duration
}

// Dial connects to the control socket at socketPath. A zero timeout waits
// indefinitely for each response.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "failed connecting to %s", socketPath)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
		nextID:  1,
		timeout: timeout,
	}, nil
}

// Call sends action with params and waits for its response.
func (c *Client) Call(action string, params interface{}) (*RawResponse, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed marshaling parameters")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	req := &Request{ID: c.nextID, Action: action, Parameters: raw}
	c.nextID++
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := c.encoder.Encode(req); err != nil {
		return nil, errors.Wrapf(err, "failed sending %s", action)
	}
	resp := &RawResponse{}
	if err := c.decoder.Decode(resp); err != nil {
		return nil, errors.Wrapf(err, "failed reading response to %s", action)
	}
	if resp.ID != req.ID {
		return nil, errors.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
