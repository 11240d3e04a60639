package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ActivityURI is the URI of the query activity resource.
const ActivityURI = "groundedrag://activity"

func (s *Server) registerActivityResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "activity",
			URI:         ActivityURI,
			Description: "Local query activity: volume, empty results, top terms and latency buckets",
			MIMEType:    "application/json",
		},
		s.readActivity,
	)
}

func (s *Server) readActivity(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	content, err := s.ActivityJSON()
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: ActivityURI, MIMEType: "application/json", Text: string(content)},
		},
	}, nil
}

// ActivityJSON renders the activity snapshot.
func (s *Server) ActivityJSON() ([]byte, error) {
	if s.opts.Activity == nil {
		return nil, NewInvalidParamsError("query activity not available")
	}
	return json.MarshalIndent(s.opts.Activity.Snapshot(), "", "  ")
}
