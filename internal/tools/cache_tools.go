package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/kvcache/internal/cache"
	"github.com/leonardcser/kvcache/internal/codec"
)

// Handler is the signature mcp-go expects for a tool.
type Handler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func bucketFor(reg *cache.Registry, req mcp.CallToolRequest) (*cache.Bucket, error) {
	return reg.Bucket(req.GetString("bucket", ""))
}

// CacheGetHandler returns the MCP tool handler for the "cache-get" tool.
func CacheGetHandler(reg *cache.Registry) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b, err := bucketFor(reg, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		v, ok := b.Get(key)
		if !ok {
			return mcp.NewToolResultText("Not found."), nil
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

// CacheSetHandler returns the MCP tool handler for the "cache-set" tool.
// The value is stored as parsed JSON when it parses and as text otherwise.
func CacheSetHandler(reg *cache.Registry) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b, err := bucketFor(reg, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ttl := req.GetInt("ttl", 0)
		if !b.Set(key, codec.Decode(raw), int64(ttl)) {
			return mcp.NewToolResultError(fmt.Sprintf("could not store %q", key)), nil
		}
		if ttl != 0 {
			return mcp.NewToolResultText(fmt.Sprintf("Stored %q for %d time units.", key, ttl)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Stored %q.", key)), nil
	}
}

// CacheRemoveHandler returns the MCP tool handler for the "cache-remove" tool.
func CacheRemoveHandler(reg *cache.Registry) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b, err := bucketFor(reg, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b.Remove(key)
		return mcp.NewToolResultText(fmt.Sprintf("Removed %q.", key)), nil
	}
}

// CacheFlushHandler returns the MCP tool handler for the "cache-flush" tool.
func CacheFlushHandler(reg *cache.Registry) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		b, err := bucketFor(reg, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if req.GetBool("expired_only", false) {
			b.FlushExpired()
			return mcp.NewToolResultText("Flushed expired items."), nil
		}
		b.Flush()
		return mcp.NewToolResultText("Flushed all items."), nil
	}
}

// CacheKeysHandler returns the MCP tool handler for the "cache-keys" tool.
func CacheKeysHandler(reg *cache.Registry) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		b, err := bucketFor(reg, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var g glob.Glob
		if pattern := req.GetString("pattern", ""); pattern != "" {
			if g, err = glob.Compile(pattern); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid pattern %q: %v", pattern, err)), nil
			}
		}
		var keys []string
		for _, k := range b.Keys() {
			if g == nil || g.Match(k) {
				keys = append(keys, k)
			}
		}
		return mcp.NewToolResultText(formatKeys(keys)), nil
	}
}

// formatKeys renders one key per line, sorted.
func formatKeys(keys []string) string {
	if len(keys) == 0 {
		return "No keys."
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}
