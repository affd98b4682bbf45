package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client 在 go-redis 客户端之上维护一个命名 Lua 脚本注册表。
// 适配器在初始化时注册脚本，运行时按名字执行，EVALSHA 缓存由 go-redis 处理。
type Client struct {
	client *redis.Client

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

func NewClient(addr, password string, db int) *Client {
	return &Client{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		scripts: make(map[string]*redis.Script),
	}
}

// NewClientFromRedis 复用一个已有的 go-redis 客户端，测试用。
func NewClientFromRedis(client *redis.Client) *Client {
	return &Client{client: client, scripts: make(map[string]*redis.Script)}
}

// LoadScriptFromContent 注册一段 Lua 脚本。重复注册同名脚本会覆盖。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if content == "" {
		return fmt.Errorf("script %q has empty content", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// RunScript 按名字执行已注册的脚本。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// GetClient 暴露底层客户端，供不需要脚本的直接命令使用。
func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
