package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ============================================================
// HTTP helpers for GET, POST, PATCH, RPC
// ============================================================

func (c *Client) doRequest(ctx context.Context, op, path string) ([]byte, error) {
	return c.call(ctx, op, http.MethodGet, path, nil, "")
}

func (c *Client) doPost(ctx context.Context, op, table string, data any) ([]byte, error) {
	return c.call(ctx, op, http.MethodPost, table, data, "return=representation")
}

func (c *Client) doPatch(ctx context.Context, op, path string, data map[string]any) ([]byte, error) {
	data["updated_at"] = time.Now().UTC()
	return c.call(ctx, op, http.MethodPatch, path, data, "return=representation")
}

// doRPC calls a Postgres function exposed by PostgREST.
func (c *Client) doRPC(ctx context.Context, fn string, args any) ([]byte, error) {
	return c.call(ctx, "rpc "+fn, http.MethodPost, "rpc/"+fn, args, "")
}

// eq builds a PostgREST equality filter with an escaped value.
func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// page appends limit/offset for 1-based pages.
func page(path string, page, pageSize int) string {
	if pageSize <= 0 {
		return path
	}
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf("%s&limit=%d&offset=%d", path, pageSize, (page-1)*pageSize)
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
