// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the ring to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/mioservice"
	"github.com/starford/mioring/internal/ring"
)

const (
	operationKindsURI = "mioring://operation-kinds"
	guideURI          = "mioring://guide"
)

// Server wraps the MCP server with ring tools.
type Server struct {
	mcp *server.MCPServer
	svc *mioservice.Service
}

// New creates a new MCP server with all ring tools registered.
func New(svc *mioservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"MioRing",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("register_text",
		mcp.WithDescription("Register a piece of text as a new entity. A lone http(s) link is stored as a url entity."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text content to register")),
		mcp.WithString("ext", mcp.Description("Optional extension: txt or url")),
	), s.registerText)

	s.mcp.AddTool(mcp.NewTool("register_asset",
		mcp.WithDescription("Register a file from an http(s) URL or a base64 data URI as a new entity."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data>")),
		mcp.WithString("ext", mcp.Description("Extension override: png, jpg, txt, mp3 or mp4")),
	), s.registerAsset)

	s.mcp.AddTool(mcp.NewTool("initiate_operation",
		mcp.WithDescription("Record a pending operation over existing specters. Nothing runs until the result is forced. "+
			"See the "+operationKindsURI+" resource for kinds and their attribute schemas."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Operation kind, e.g. crop, resize, summarize, convert:text")),
		mcp.WithString("base", mcp.Required(), mcp.Description("Comma-separated ids of the input specters")),
		mcp.WithString("attr", mcp.Description("JSON object with operation attributes")),
	), s.initiate)

	s.mcp.AddTool(mcp.NewTool("force",
		mcp.WithDescription("Actualize specters, running whatever pending operations they depend on."),
		mcp.WithString("ids", mcp.Required(), mcp.Description("Comma-separated specter ids")),
	), s.force)

	s.mcp.AddTool(mcp.NewTool("view",
		mcp.WithDescription("Return a window of the registration chronology together with everything derived from it."),
		mcp.WithNumber("anchor", mcp.Description("Chronology index to centre on; omit for everything")),
		mcp.WithNumber("former", mcp.Description("Entries before the anchor")),
		mcp.WithNumber("latter", mcp.Description("Entries after the anchor")),
	), s.view)

	s.mcp.AddTool(mcp.NewTool("archive",
		mcp.WithDescription("Move a specter or operation and everything derived from it into the archive."),
		mcp.WithString("specter", mcp.Description("Specter id to archive")),
		mcp.WithString("operation", mcp.Description("Operation id to archive")),
	), s.archive)

	s.mcp.AddTool(mcp.NewTool("purge",
		mcp.WithDescription("Permanently discard everything in the archive."),
	), s.purge)

	s.mcp.AddTool(mcp.NewTool("read_content",
		mcp.WithDescription("Read a text specter's content, forcing it first when it is still lazy."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Specter id")),
	), s.readContent)

	s.mcp.AddTool(mcp.NewTool("offered_operations",
		mcp.WithDescription("List the operation kinds available for an entity kind or for a specific specter."),
		mcp.WithString("kind", mcp.Description("Entity kind: text, image, audio or video")),
		mcp.WithString("id", mcp.Description("Specter id; its kind is used")),
	), s.offered)

	s.mcp.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Full-text search through text specters."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.search)

	s.mcp.AddTool(mcp.NewTool("get_guide",
		mcp.WithDescription("Returns a short guide to ids, operation kinds and the lazy evaluation model."),
	), s.getGuide)

	s.mcp.AddResource(
		mcp.NewResource(operationKindsURI, "Operation kinds",
			mcp.WithResourceDescription("Every enabled operation backend with its input kind and attribute schema."),
			mcp.WithMIMEType("application/json"),
		),
		s.readOperationKinds,
	)
	s.mcp.AddResource(
		mcp.NewResource(guideURI, "MioRing guide",
			mcp.WithResourceDescription("How to drive the ring through these tools."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuide,
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

// toolError converts a service error into a tool error. Unexpected errors
// surface to the client as a generic failure.
func toolError(err error) *mcp.CallToolResult {
	for _, known := range []error{
		apperr.ErrNotFound, apperr.ErrInvalid, apperr.ErrUnsupported,
		apperr.ErrCapabilityDisabled, apperr.ErrPinned, apperr.ErrNotActualized,
	} {
		if errors.Is(err, known) {
			return mcp.NewToolResultError(err.Error())
		}
	}
	return mcp.NewToolResultError("internal error: " + err.Error())
}

func splitIDs(raw string) ([]ring.MioID, error) {
	var ids []ring.MioID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := ring.ParseMioID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no ids given", apperr.ErrInvalid)
	}
	return ids, nil
}

func (s *Server) registerText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var ext ring.EntityExt
	if raw := req.GetString("ext", ""); raw != "" {
		if ext, err = ring.ParseExt(raw); err != nil {
			return toolError(err), nil
		}
	}
	id, err := s.svc.RegisterText(ctx, text, ext)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("registered: %s", id)), nil
}

func (s *Server) initiate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawKind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawBase, err := req.RequireString("base")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := ring.ParseOperationKind(rawKind)
	if err != nil {
		return toolError(err), nil
	}
	base, err := splitIDs(rawBase)
	if err != nil {
		return toolError(err), nil
	}
	var attr json.RawMessage
	if raw := req.GetString("attr", ""); raw != "" {
		if !json.Valid([]byte(raw)) {
			return mcp.NewToolResultError("attr is not valid JSON"), nil
		}
		attr = json.RawMessage(raw)
	}
	delta, err := s.svc.Initiate(ctx, kind, attr, base)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(delta), nil
}

func (s *Server) force(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := splitIDs(raw)
	if err != nil {
		return toolError(err), nil
	}
	done, err := s.svc.Force(ctx, ids)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(done), nil
}

func (s *Server) view(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var gen ring.ViewGen = ring.ViewAll{}
	if anchor := req.GetInt("anchor", -1); anchor >= 0 {
		gen = ring.ViewAnchor{
			Former: req.GetInt("former", 0),
			Anchor: anchor,
			Latter: req.GetInt("latter", 0),
		}
	}
	snap, err := s.svc.View(ctx, gen)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(snap), nil
}

func (s *Server) archive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specter := req.GetString("specter", "")
	operation := req.GetString("operation", "")

	var t ring.Target
	switch {
	case specter != "" && operation == "":
		id, err := ring.ParseMioID(specter)
		if err != nil {
			return toolError(err), nil
		}
		t = ring.SpecterTarget(id)
	case operation != "" && specter == "":
		id, err := ring.ParseOpID(operation)
		if err != nil {
			return toolError(err), nil
		}
		t = ring.OperationTarget(id)
	default:
		return mcp.NewToolResultError("set exactly one of specter or operation"), nil
	}

	out, err := s.svc.Archive(ctx, t)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(out), nil
}

func (s *Server) purge(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.svc.Purge(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(out), nil
}

func (s *Server) readContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := ring.ParseMioID(raw)
	if err != nil {
		return toolError(err), nil
	}
	c, err := s.svc.Content(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if c.Kind != ring.KindText {
		return jsonResult(c), nil
	}
	data, err := s.svc.Read(id)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) offered(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		kinds []ring.OperationKind
		err   error
	)
	if raw := req.GetString("id", ""); raw != "" {
		id, perr := ring.ParseMioID(raw)
		if perr != nil {
			return toolError(perr), nil
		}
		kinds, err = s.svc.OfferedFor(id)
	} else {
		kind := req.GetString("kind", "")
		if kind == "" {
			return mcp.NewToolResultError("kind or id is required"), nil
		}
		kinds, err = s.svc.Offered(ring.EntityKind(kind))
	}
	if err != nil {
		return toolError(err), nil
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	if len(names) == 0 {
		return mcp.NewToolResultText("no operations offered"), nil
	}
	return mcp.NewToolResultText(strings.Join(names, "\n")), nil
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(Guide), nil
}

func (s *Server) readGuide(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     Guide,
		},
	}, nil
}

func (s *Server) readOperationKinds(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.svc.Describe(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      operationKindsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
