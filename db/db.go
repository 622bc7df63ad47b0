// Package db persists jobs and videos. The redis-backed store keeps
// records as JSON blobs with membership sets for listing; the memory
// store backs tests and credential-less runs.
package db

import (
	"encoding/json"
	"errors"
	"net"

	"github.com/go-redis/redis"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrVideoNotFound = errors.New("video not found")
)

type Options struct {
	Addr string
	DB   int
}

// NewClient connects to redis. The address defaults to localhost and
// gets the default port appended when missing.
func NewClient(opt *Options) (*Client, error) {
	if opt == nil {
		opt = &Options{}
	}
	if opt.Addr == "" {
		opt.Addr = "localhost:6379"
	}
	_, _, err := net.SplitHostPort(opt.Addr)
	if err != nil {
		opt.Addr = net.JoinHostPort(opt.Addr, "6379")
	}
	c := &Client{
		rc: redis.NewClient(&redis.Options{
			Addr:     opt.Addr,
			DB:       opt.DB,
			Password: "",
		}),
	}
	return c, nil
}

type Client struct {
	rc *redis.Client
}

func (c *Client) get(key string, dst interface{}) error {
	val, err := c.rc.Get(key).Result()
	if err == redis.Nil {
		return redis.Nil
	} else if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dst)
}

func (c *Client) put(key string, val interface{}) error {
	data, _ := json.Marshal(val)
	return c.rc.Set(key, string(data), 0).Err()
}

func (c *Client) addMember(set, member string) error {
	return c.rc.SAdd(set, member).Err()
}

func (c *Client) members(set string) ([]string, error) {
	return c.rc.SMembers(set).Result()
}

// Ping checks connectivity.
func (c *Client) Ping() error {
	return c.rc.Ping().Err()
}
