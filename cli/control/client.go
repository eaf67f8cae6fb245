package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct{ addr string }

func NewClient(addr string) *Client { return &Client{addr: addr} }

// SetInterval asks the running daemon to change its poll interval and
// returns the previous value.
func (c *Client) SetInterval(d time.Duration) (time.Duration, error) {
	body, _ := json.Marshal(map[string]any{"duration": d.String()})
	resp, err := http.Post("http://"+c.addr+"/set-interval", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("server error: %s", resp.Status)
	}
	var r struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, err
	}
	old, err := time.ParseDuration(r.Old)
	if err != nil {
		return 0, nil
	}
	return old, nil
}

// SetWorkers asks the running daemon to resize its worker pool and
// returns the previous size.
func (c *Client) SetWorkers(n int) (int, error) {
	body, _ := json.Marshal(map[string]any{"workers": n})
	resp, err := http.Post("http://"+c.addr+"/set-workers", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("server error: %s", resp.Status)
	}
	var r struct {
		Old int `json:"old"`
		New int `json:"new"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, err
	}
	return r.Old, nil
}

// Status reports the daemon's current poll interval and worker count.
func (c *Client) Status() (time.Duration, int, error) {
	resp, err := http.Get("http://" + c.addr + "/status")
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("server error: %s", resp.Status)
	}
	var r struct {
		Interval string `json:"interval"`
		Workers  int    `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, 0, err
	}
	d, _ := time.ParseDuration(r.Interval)
	return d, r.Workers, nil
}
