package store

import (
	"encoding/json"
	"net"
	"time"

	"github.com/jmgilman/go/errors"
)

// Client implements HostStore over a Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 500 * time.Millisecond}
}

func (c *Client) withConn(fn func(conn net.Conn) error) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "dial store daemon %s", c.socketPath)
	}
	defer conn.Close()
	return fn(conn)
}

func (c *Client) roundTrip(req Request) (Response, error) {
	var resp Response
	err := c.withConn(func(conn net.Conn) error {
		if err := json.NewEncoder(conn).Encode(&req); err != nil {
			return errors.Wrap(err, errors.CodeNetwork, "send request")
		}
		if err := json.NewDecoder(conn).Decode(&resp); err != nil {
			return errors.Wrap(err, errors.CodeNetwork, "read response")
		}
		if !resp.OK {
			return remoteError(resp)
		}
		return nil
	})
	return resp, err
}

// remoteError rebuilds a daemon error with its code so that quota errors
// survive the round trip.
func remoteError(resp Response) error {
	code := errors.ErrorCode(resp.Code)
	if code == "" {
		code = errors.CodeUnknown
	}
	return errors.New(code, resp.Error)
}

func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.roundTrip(Request{Op: "get", Key: key})
	if err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

func (c *Client) Set(key, value string) error {
	_, err := c.roundTrip(Request{Op: "set", Key: key, Value: value})
	return err
}

func (c *Client) Remove(key string) error {
	_, err := c.roundTrip(Request{Op: "remove", Key: key})
	return err
}

func (c *Client) Keys() ([]string, error) {
	resp, err := c.roundTrip(Request{Op: "keys"})
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) Len() (int, error) {
	resp, err := c.roundTrip(Request{Op: "len"})
	if err != nil {
		return 0, err
	}
	return resp.Len, nil
}
