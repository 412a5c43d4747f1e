// Package mcp exposes the note index to AI clients over the Model
// Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/notemcp/notemcp/internal/search"
	"github.com/notemcp/notemcp/internal/vault"
	"github.com/notemcp/notemcp/internal/worker"
	"github.com/notemcp/notemcp/pkg/version"
)

// DefaultRecentNotes is how many recent notes per vault become
// resources.
const DefaultRecentNotes = 10

// MaxNoteSize caps how much of a note a tool result or resource
// returns (1MB).
const MaxNoteSize = 1024 * 1024

// Index is the worker surface the MCP server needs.
type Index interface {
	Submit(ctx context.Context, query string, topK int) ([]search.Result, error)
	Status(ctx context.Context) (worker.Status, error)
}

// Server wires the note index into an MCP stdio server.
type Server struct {
	index  Index
	vaults vault.Set
	logger *slog.Logger
	mcp    *mcp.Server
	topN   int
}

// NewServer creates the MCP server and registers its tools.
func NewServer(index Index, vaults vault.Set, logger *slog.Logger) (*Server, error) {
	if index == nil {
		return nil, errors.New("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		index:  index,
		vaults: vaults,
		logger: logger,
		topN:   DefaultRecentNotes,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "notemcp",
			Version: version.Short(),
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// SearchNotesInput is the search_notes tool input.
type SearchNotesInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of notes to return"`
}

// NoteHit is one returned note with its content.
type NoteHit struct {
	Vault   string  `json:"vault"`
	Path    string  `json:"path"`
	Score   float32 `json:"score"`
	Content string  `json:"content"`
}

// SearchNotesOutput is the search_notes tool output.
type SearchNotesOutput struct {
	Results []NoteHit `json:"results"`
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_notes",
		Description: "Semantic search across the indexed note vaults. Returns the most relevant notes with their full content. Queries match by meaning, not just keywords.",
	}, s.searchNotesHandler)

	s.logger.Debug("registered tool", slog.String("name", "search_notes"))
}

// searchNotesHandler answers the search_notes tool.
func (s *Server) searchNotesHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchNotesInput) (
	*mcp.CallToolResult,
	SearchNotesOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchNotesOutput{}, fmt.Errorf("query parameter is required")
	}

	results, err := s.index.Submit(ctx, input.Query, input.TopK)
	if err != nil {
		return nil, SearchNotesOutput{}, fmt.Errorf("search: %w", err)
	}

	output := SearchNotesOutput{Results: make([]NoteHit, 0, len(results))}
	for _, r := range results {
		hit := NoteHit{
			Vault: r.Vault,
			Path:  r.Path,
			Score: r.Score,
		}
		if r.AbsPath != "" {
			content, err := readNote(r.AbsPath)
			if err != nil {
				// The note may have vanished since ingestion; return
				// the hit without content rather than failing the call.
				s.logger.Warn("cannot read note for result",
					slog.String("path", r.AbsPath),
					slog.String("error", err.Error()))
			} else {
				hit.Content = content
			}
		}
		output.Results = append(output.Results, hit)
	}

	return nil, output, nil
}

// RegisterResources exposes the most recently modified notes of each
// vault as note:// resources.
func (s *Server) RegisterResources() error {
	count := 0
	for _, v := range s.vaults {
		rels, err := v.RecentNotes(s.topN)
		if err != nil {
			return fmt.Errorf("list recent notes in %s: %w", v.Name, err)
		}
		for _, rel := range rels {
			s.registerNoteResource(v, rel)
			count++
		}
	}

	s.logger.Info("registered note resources", slog.Int("count", count))
	return nil
}

// NoteURI builds the resource URI for a note.
func NoteURI(vaultName, relPath string) string {
	return fmt.Sprintf("note://%s/%s", vaultName, relPath)
}

func (s *Server) registerNoteResource(v vault.Vault, rel string) {
	uri := NoteURI(v.Name, rel)
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        rel,
			URI:         uri,
			Description: fmt.Sprintf("Note %s in vault %s", rel, v.Name),
			MIMEType:    "text/markdown",
		},
		s.makeNoteHandler(v, rel, uri),
	)
}

// makeNoteHandler creates a read handler for one note.
func (s *Server) makeNoteHandler(v vault.Vault, rel, uri string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := readNote(v.Abs(rel))
		if err != nil {
			return nil, fmt.Errorf("read note %s: %w", uri, err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     content,
				},
			},
		}, nil
	}
}

// readNote reads a note file, truncated to MaxNoteSize.
func readNote(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > MaxNoteSize {
		data = data[:MaxNoteSize]
	}
	return string(data), nil
}

// Serve runs the MCP server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server starting", slog.String("transport", "stdio"))

	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
