package mcpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liutong011025-cloud/CwritevV7/internal/mcpserver"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
)

type stubChecker struct {
	engine *proofread.Engine
	answer string
	err    error
	got    llmcheck.Request
}

func (s *stubChecker) Check(_ context.Context, req llmcheck.Request) (llmcheck.Result, error) {
	s.got = req
	if s.err != nil {
		return llmcheck.Result{}, s.err
	}
	return llmcheck.Result{Result: s.engine.CheckAnswer(req.Text, s.answer)}, nil
}

func newConfig(c *stubChecker) mcpserver.Config {
	engine := proofread.NewEngine()
	c.engine = engine
	return mcpserver.Config{
		Checker: c,
		Engine:  func() *proofread.Engine { return engine },
		Version: "test",
	}
}

// connect serves cfg over in-memory transports and returns a client session.
func connect(t *testing.T, cfg mcpserver.Config) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcp.NewInMemoryTransports()

	ss, err := mcpserver.New(cfg).Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, mcpserver.Output) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var out mcpserver.Output
	if res.IsError {
		return res, out
	}
	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return res, out
}

func TestServer_ListsTools(t *testing.T) {
	t.Parallel()
	cs := connect(t, newConfig(&stubChecker{answer: "[]"}))

	var names []string
	for tool, err := range cs.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"locate", "proofread"}) {
		t.Errorf("tools = %v, want [locate proofread]", names)
	}
}

func TestProofread(t *testing.T) {
	t.Parallel()
	c := &stubChecker{answer: `[{"original":"recieve","corrected":"receive","issue":"spelling"}]`}
	cs := connect(t, newConfig(c))

	res, out := call(t, cs, "proofread", map[string]any{
		"text":         "I recieve letters.",
		"content_type": "letter",
		"recipient":    "Grandma",
	})
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	if len(out.Errors) != 1 {
		t.Fatalf("errors = %+v, want 1", out.Errors)
	}
	if e := out.Errors[0]; e.Start != 2 || e.End != 9 || e.Corrected != "receive" {
		t.Errorf("error = %+v, want receive at [2,9)", e)
	}
	if c.got.ContentType != llmcheck.Letter || c.got.Recipient != "Grandma" {
		t.Errorf("request = %+v", c.got)
	}
}

func TestProofread_CheckerError(t *testing.T) {
	t.Parallel()
	c := &stubChecker{err: errors.New("upstream down")}
	cs := connect(t, newConfig(c))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "proofread", Arguments: map[string]any{"text": "Hi."}})
	if err == nil && !res.IsError {
		t.Error("expected a tool error")
	}
}

func TestLocate(t *testing.T) {
	t.Parallel()
	cs := connect(t, newConfig(&stubChecker{}))

	_, out := call(t, cs, "locate", map[string]any{
		"text": "Their going to there house.",
		"records": []map[string]any{
			{"original": "Their", "corrected": "They're"},
			{"original": "there", "corrected": "their"},
			{"original": "THEIR", "corrected": "they're"},
			{"original": "missing", "corrected": "gone"},
		},
	})

	if len(out.Errors) != 2 {
		t.Fatalf("errors = %+v, want 2", out.Errors)
	}
	if e := out.Errors[0]; e.Start != 0 || e.End != 5 || e.Corrected != "They're" {
		t.Errorf("first = %+v", e)
	}
	if e := out.Errors[1]; e.Start != 15 || e.End != 20 || e.Corrected != "their" {
		t.Errorf("second = %+v", e)
	}
	if out.Dropped["dedupe"] != 1 || out.Dropped["locate"] != 1 {
		t.Errorf("dropped = %v, want dedupe:1 locate:1", out.Dropped)
	}
}

func TestHandler_StreamableHTTP(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(mcpserver.Handler(mcpserver.New(newConfig(&stubChecker{}))))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	_, out := call(t, cs, "locate", map[string]any{
		"text":    "a cat",
		"records": []map[string]any{{"original": "cat", "corrected": "dog"}},
	})
	if len(out.Errors) != 1 || out.Errors[0].Start != 2 {
		t.Errorf("errors = %+v, want dog at 2", out.Errors)
	}
}
