package capture

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/geom"
	"github.com/hazyhaar/snapflow/idgen"
	"github.com/hazyhaar/snapflow/kit"
)

// Service is what the MCP tools drive. *Capturer implements it.
type Service interface {
	Capture(ctx context.Context, req Request) (*Session, error)
	LoadMeta(ctx context.Context, id string) (shot.Meta, error)
}

// RegisterMCP registers the snapflow_capture and snapflow_capture_info
// tools on srv.
// mw, when non-nil, wraps both endpoints.
func RegisterMCP(srv *mcp.Server, svc Service, mw kit.Middleware) {
	registerCaptureTool(srv, svc, mw)
	registerInfoTool(srv, svc, mw)
}

// RegisterMCP registers this Capturer's tools on srv.
func (c *Capturer) RegisterMCP(srv *mcp.Server) {
	RegisterMCP(srv, c, kit.Chain(
		kit.Logging(c.logger, "mcp"),
		kit.Timeout(c.cfg.Capture.CaptureTimeout+c.cfg.Browser.NavigateTimeout),
	))
}

type captureResult struct {
	ID    string    `json:"id"`
	Mode  shot.Mode `json:"mode"`
	URL   string    `json:"url"`
	Title string    `json:"title,omitempty"`
	Tiles int       `json:"tiles"`
	State string    `json:"state"`
}

type captureReq struct {
	Request
	ID string `json:"id,omitempty"`
}

// decodeCapture reads the capture arguments. A caller-supplied id must be a
// well-formed session id; it reaches the Capturer through the context.
func decodeCapture(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r captureReq
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	res := &kit.MCPDecodeResult{Request: &r.Request}
	if r.ID != "" {
		id, err := idgen.ParseSession(r.ID)
		if err != nil {
			return nil, err
		}
		res.EnrichCtx = func(ctx context.Context) context.Context {
			return kit.WithCaptureID(ctx, id)
		}
	}
	return res, nil
}

func registerCaptureTool(srv *mcp.Server, svc Service, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "snapflow_capture",
		Description: "Capture a web page as a screenshot: the full scrollable page, the visible viewport, or a rectangle. Returns the capture id to fetch the image from the result server.",
		InputSchema: kit.InputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
			"mode": map[string]any{
				"type":        "string",
				"enum":        []string{"full", "visible", "region"},
				"description": "What to capture (default full)",
			},
			"rect": map[string]any{"type": "string", "description": "Region as x,y,width,height in CSS pixels (region mode)"},
			"id":   map[string]any{"type": "string", "description": "Optional session id (cap_<uuid>) to store the capture under"},
		}, "url"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*Request)
		s, err := svc.Capture(ctx, *r)
		if err != nil {
			return nil, err
		}
		return captureResult{
			ID:    s.ID,
			Mode:  s.Mode,
			URL:   s.URL,
			Title: s.Title,
			Tiles: len(s.Tiles),
			State: s.State.String(),
		}, nil
	}
	if mw != nil {
		endpoint = mw(endpoint)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeCapture)
}

type infoReq struct {
	ID string `json:"id"`
}

type infoResult struct {
	shot.Meta
	Info string `json:"info,omitempty"`
}

func registerInfoTool(srv *mcp.Server, svc Service, mw kit.Middleware) {
	tool := &mcp.Tool{
		Name:        "snapflow_capture_info",
		Description: "Describe a stored capture: mode, source URL, page metrics and tile count.",
		InputSchema: kit.InputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Capture id"},
		}, "id"),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*infoReq)
		m, err := svc.LoadMeta(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return infoResult{Meta: m, Info: Describe(m)}, nil
	}
	if mw != nil {
		endpoint = mw(endpoint)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[infoReq]())
}

// Describe summarises a capture for humans, e.g. "Captured 1280x4200 px".
// Sizes are in device pixels. Visible captures carry no page metrics.
func Describe(m shot.Meta) string {
	switch {
	case m.Region != nil:
		r := m.Region
		dpr := shot.PageMetrics{DevicePixelRatio: r.DevicePixelRatio}.DPR()
		crop := geom.RectToDevice(r.X-m.TileX, r.Y-m.TileY, r.Width, r.Height, dpr)
		return fmt.Sprintf("Captured %dx%d px", crop.Dx(), crop.Dy())
	case m.Metrics.Known():
		dpr := m.Metrics.DPR()
		return "Captured " + size(float64(m.Metrics.FullWidth)*dpr, float64(m.Metrics.FullHeight)*dpr)
	}
	return "Captured visible viewport"
}

func size(w, h float64) string {
	return fmt.Sprintf("%dx%d px", geom.Round(w), geom.Round(h))
}
