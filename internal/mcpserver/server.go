// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes routing and registry tools to LLM agents over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/scriptorium/internal/docservice"
	"github.com/starford/scriptorium/internal/index"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/queue"
	"github.com/starford/scriptorium/internal/registry"
	"github.com/starford/scriptorium/internal/router"
)

const (
	contractURI = "scriptorium://document-contract"
	taxonomyURI = "scriptorium://routing-taxonomy"
)

// Documents publishes and searches documents.
type Documents interface {
	Publish(ctx context.Context, req docservice.PublishRequest) (*docservice.PublishResult, error)
	Get(ctx context.Context, path string) (*docservice.DocumentDetail, error)
	Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error)
}

// Registry queues and drains registry updates.
type Registry interface {
	QueueUpdate(ctx context.Context, p queue.Payload) (*registry.DrainResult, error)
	ProcessQueue(ctx context.Context) (*registry.DrainResult, error)
	FindDocument(term string) ([]*models.Document, error)
	GetStatistics() (*registry.Statistics, error)
}

// Router resolves paths without writing anything.
type Router interface {
	Route(ctx context.Context, doc router.Document) (string, error)
	Rules() *router.Rules
	Stats() router.Stats
}

// Server wraps the MCP server with Scriptorium tools.
type Server struct {
	mcp      *server.MCPServer
	docs     Documents
	registry Registry
	router   Router
}

// New creates a new MCP server with all tools registered.
func New(docs Documents, reg Registry, rt Router) *Server {
	s := &Server{docs: docs, registry: reg, router: rt}

	s.mcp = server.NewMCPServer(
		"Scriptorium",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("route_document",
		mcp.WithDescription("Resolve the folder a document belongs in without writing it."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File name, e.g. market-analysis.md")),
		mcp.WithString("content", mcp.Description("Optional Markdown content used for classification")),
		mcp.WithString("category", mcp.Description("Optional category hint")),
		mcp.WithString("agent", mcp.Description("Optional producing agent name")),
	), s.routeDocument)

	s.mcp.AddTool(mcp.NewTool("publish_document",
		mcp.WithDescription("Route, write and register a document. "+
			"Read the contract first via the "+contractURI+" resource."),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File name ending in .md")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content")),
		mcp.WithString("compact", mcp.Description("Optional compact JSON representation")),
		mcp.WithString("category", mcp.Description("Optional category hint")),
		mcp.WithString("agent", mcp.Description("Optional producing agent name")),
		mcp.WithString("summary", mcp.Description("Optional summary; defaults to the first heading")),
	), s.publishDocument)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a registered document by either representation path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Document path relative to the store root")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("queue_update",
		mcp.WithDescription("Queue one registry update and drain the queue."),
		mcp.WithString("update", mcp.Required(), mcp.Description(`Flat JSON object, e.g. {"action":"create","path":"implementation/api-design.md"}`)),
	), s.queueUpdate)

	s.mcp.AddTool(mcp.NewTool("process_queue",
		mcp.WithDescription("Apply all pending registry updates."),
	), s.processQueue)

	s.mcp.AddTool(mcp.NewTool("find_documents",
		mcp.WithDescription("Find registry entries whose key or summary contains a term."),
		mcp.WithString("term", mcp.Required(), mcp.Description("Case-insensitive search term")),
	), s.findDocuments)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search through registered document bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("registry_stats",
		mcp.WithDescription("Registry totals, compact coverage and token reduction."),
	), s.registryStats)

	s.mcp.AddTool(mcp.NewTool("routing_stats",
		mcp.WithDescription("Routing decisions per tier and recent history."),
	), s.routingStats)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Document Contract",
			mcp.WithResourceDescription("How producers should name and structure documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(taxonomyURI, "Routing Taxonomy",
			mcp.WithResourceDescription("Active categories, patterns and known documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTaxonomyResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) routeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.router.Route(ctx, router.Document{
		Filename: filename,
		Content:  req.GetString("content", ""),
		Category: req.GetString("category", ""),
		Agent:    req.GetString("agent", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(p), nil
}

func (s *Server) publishDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.docs.Publish(ctx, docservice.PublishRequest{
		Filename: filename,
		Content:  content,
		Compact:  req.GetString("compact", ""),
		Category: req.GetString("category", ""),
		Agent:    req.GetString("agent", ""),
		Summary:  req.GetString("summary", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.docs.Get(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(doc.Content), nil
}

func (s *Server) queueUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("update")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := queue.ParseUpdate([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.registry.QueueUpdate(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) processQueue(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.registry.ProcessQueue(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res), nil
}

func (s *Server) findDocuments(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	term, err := req.RequireString("term")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	docs, err := s.registry.FindDocument(term)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, d.Category+"/"+d.Key+"\t"+d.Representations.Verbose)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.docs.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) registryStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.registry.GetStatistics()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st), nil
}

func (s *Server) routingStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.router.Stats()), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: contractURI, MIMEType: "text/markdown", Text: DocumentContract},
	}, nil
}

func (s *Server) readTaxonomyResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: taxonomyURI, MIMEType: "text/markdown", Text: Taxonomy(s.router.Rules())},
	}, nil
}
