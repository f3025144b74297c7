package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/cache"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/model"
)

type staticFetcher struct {
	pools []model.Pool
}

func (f *staticFetcher) FetchPools(ctx context.Context) (*model.Dataset, error) {
	return &model.Dataset{Pools: f.pools, FetchedAt: time.Now().UTC()}, nil
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	apy := 2.5
	fetcher := &staticFetcher{pools: []model.Pool{
		{Chain: "Ethereum", Pool: "STETH", Project: "lido", TvlUsd: 1000, Apy: &apy},
		{Chain: "Solana", Pool: "MSOL", Project: "marinade", TvlUsd: 500},
	}}
	return NewDispatcher(cache.New(fetcher, time.Minute, nil), nil)
}

func dispatchRaw(t *testing.T, d *Dispatcher, payload string) Response {
	t.Helper()
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("bad test payload: %v", err)
	}
	return d.Dispatch(context.Background(), req)
}

func TestDispatchToolsList(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t), `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("id not echoed: %s", resp.ID)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result should be an object")
	}
	tools, ok := result["tools"].([]Tool)
	if !ok || len(tools) == 0 {
		t.Fatalf("tools/list should return tools: %+v", result)
	}
	if tools[0].Name != ToolGetYieldPools {
		t.Fatalf("expected %s, got %s", ToolGetYieldPools, tools[0].Name)
	}
	if tools[0].InputSchema["type"] != "object" {
		t.Fatalf("tool schema missing: %+v", tools[0].InputSchema)
	}
}

func TestDispatchToolCallFiltersChain(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t),
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_yield_pools","arguments":{"chain":"Ethereum"}}}`)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result := resp.Result.(map[string]interface{})
	content := result["content"].([]textContent)
	if len(content) != 1 || content[0].Type != "text" {
		t.Fatalf("unexpected content: %+v", content)
	}

	var pools []model.Pool
	if err := json.Unmarshal([]byte(content[0].Text), &pools); err != nil {
		t.Fatalf("content is not a pool array: %v", err)
	}
	if len(pools) != 1 || pools[0].Pool != "STETH" {
		t.Fatalf("expected only the Ethereum pool, got %+v", pools)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t), `{"jsonrpc":"2.0","id":3,"method":"bogus"}`)

	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected -32601, got %+v", resp.Error)
	}
	if string(resp.ID) != "3" {
		t.Fatalf("id not echoed: %s", resp.ID)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t),
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)

	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
}

func TestDispatchBadVersion(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t), `{"jsonrpc":"1.0","id":5,"method":"tools/list"}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected -32600, got %+v", resp.Error)
	}
}

func TestDispatchMissingMethod(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t), `{"jsonrpc":"2.0","id":6}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected -32600, got %+v", resp.Error)
	}
}

func TestDispatchNonObjectParams(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t), `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":[1,2]}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
}

func TestDispatchNullIDEchoed(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t), `{"jsonrpc":"2.0","id":null,"method":"tools/list"}`)
	if string(resp.ID) != "null" {
		t.Fatalf("null id should be echoed, got %q", resp.ID)
	}
}

func TestDispatchInitialize(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t),
		`{"jsonrpc":"2.0","id":8,"method":"initialize","params":{"clientInfo":{"name":"test","version":"1.0"}}}`)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["protocolVersion"] != ProtocolVersion {
		t.Fatalf("unexpected protocol version: %v", result["protocolVersion"])
	}
	caps := result["capabilities"].(map[string]interface{})
	for _, key := range []string{"tools", "prompts"} {
		if _, ok := caps[key]; !ok {
			t.Fatalf("capabilities missing %q: %+v", key, caps)
		}
	}
}

func TestDispatchPromptsGetDeterministic(t *testing.T) {
	d := testDispatcher(t)
	payload := `{"jsonrpc":"2.0","id":9,"method":"prompts/get","params":{"name":"analyze_yields","arguments":{"chain":"Solana"}}}`

	first := dispatchRaw(t, d, payload)
	second := dispatchRaw(t, d, payload)

	if first.Error != nil {
		t.Fatalf("unexpected error: %+v", first.Error)
	}

	text := first.Result.(map[string]interface{})["description"].(string)
	if !strings.Contains(text, "Solana") {
		t.Fatalf("prompt should mention the chain argument: %q", text)
	}
	if text != second.Result.(map[string]interface{})["description"].(string) {
		t.Fatalf("prompts/get must be idempotent")
	}
}

func TestDispatchUnknownPrompt(t *testing.T) {
	resp := dispatchRaw(t, testDispatcher(t),
		`{"jsonrpc":"2.0","id":10,"method":"prompts/get","params":{"name":"nope"}}`)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
}
