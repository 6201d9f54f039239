// Package mcpserver exposes the grammar checker as Model Context Protocol
// tools.
//
// Two tools are registered:
//
//   - proofread sends a text through the language model and returns the
//     located corrections.
//   - locate skips the model and places caller-supplied error records on the
//     text, which lets an agent that already knows the errors reuse the span
//     logic.
//
// The server is served over streamable HTTP by [Handler].
package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
)

// Checker runs one grammar check through the language model.
type Checker interface {
	Check(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error)
}

// Config holds the dependencies of the MCP server.
type Config struct {
	Checker Checker

	// Engine returns the engine used by the locate tool. It is called per
	// request so that a configuration reload takes effect.
	Engine func() *proofread.Engine

	// Metrics is optional.
	Metrics *observe.Metrics

	Version string
}

// ProofreadInput is the argument of the proofread tool.
type ProofreadInput struct {
	Text        string `json:"text" jsonschema:"the text to check"`
	ContentType string `json:"content_type,omitempty" jsonschema:"letter, story or review; defaults to letter"`
	Recipient   string `json:"recipient,omitempty" jsonschema:"who a letter is addressed to"`
	Occasion    string `json:"occasion,omitempty" jsonschema:"the occasion of a letter"`
	BookTitle   string `json:"book_title,omitempty" jsonschema:"the reviewed book"`
	ReviewType  string `json:"review_type,omitempty" jsonschema:"the kind of book review"`
	User        string `json:"user,omitempty" jsonschema:"caller identifier recorded in the check log"`
}

// RecordInput is one error report passed to the locate tool.
type RecordInput struct {
	Original  string `json:"original" jsonschema:"the wrong word or phrase as it appears in the text"`
	Corrected string `json:"corrected" jsonschema:"the replacement"`
	Issue     string `json:"issue,omitempty" jsonschema:"short description of the problem"`
}

// LocateInput is the argument of the locate tool.
type LocateInput struct {
	Text    string        `json:"text" jsonschema:"the text the records refer to"`
	Records []RecordInput `json:"records" jsonschema:"error reports to place on the text"`
}

// Output is the result of both tools.
type Output struct {
	Errors  []proofread.Correction `json:"errors"`
	Dropped map[string]int         `json:"dropped,omitempty"`
}

// New returns an MCP server with the proofread and locate tools registered.
func New(cfg Config) *mcp.Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	t := &tools{cfg: cfg}

	server := mcp.NewServer(&mcp.Implementation{Name: "cwrite", Version: cfg.Version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "proofread",
		Description: "Check English text for grammar, spelling and punctuation errors. Returns each error with its byte span in the text and the suggested correction.",
	}, t.proofread)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "locate",
		Description: "Place known error reports on a text. Each original word is found at every occurrence, expanded to its full token, and overlapping matches are dropped.",
	}, t.locate)
	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

type tools struct {
	cfg Config
}

func (t *tools) proofread(ctx context.Context, _ *mcp.CallToolRequest, in ProofreadInput) (*mcp.CallToolResult, Output, error) {
	res, err := t.cfg.Checker.Check(ctx, llmcheck.Request{
		Text:        in.Text,
		ContentType: llmcheck.ContentType(in.ContentType),
		Recipient:   in.Recipient,
		Occasion:    in.Occasion,
		BookTitle:   in.BookTitle,
		ReviewType:  in.ReviewType,
		User:        in.User,
	})
	if err != nil {
		return nil, Output{}, fmt.Errorf("proofread: %w", err)
	}
	return nil, output(res.Result), nil
}

func (t *tools) locate(ctx context.Context, _ *mcp.CallToolRequest, in LocateInput) (*mcp.CallToolResult, Output, error) {
	raw := make([]proofread.RawRecord, len(in.Records))
	for i, r := range in.Records {
		raw[i] = proofread.RawRecord{Original: r.Original, Corrected: r.Corrected, Issue: r.Issue}
	}

	res := t.cfg.Engine().Check(in.Text, raw)
	for stage, n := range res.Stats.Dropped() {
		t.cfg.Metrics.RecordDropped(ctx, stage, n)
	}
	observe.Logger(ctx).Debug("mcp locate", "records", len(raw), "accepted", res.Stats.Accepted)
	return nil, output(res), nil
}

func output(res proofread.Result) Output {
	out := Output{Errors: res.Corrections}
	if out.Errors == nil {
		out.Errors = []proofread.Correction{}
	}
	if !res.Stats.Parsed {
		out.Dropped = map[string]int{"extract": 1}
		return out
	}
	for stage, n := range res.Stats.Dropped() {
		if n == 0 {
			continue
		}
		if out.Dropped == nil {
			out.Dropped = map[string]int{}
		}
		out.Dropped[stage] = n
	}
	return out
}
