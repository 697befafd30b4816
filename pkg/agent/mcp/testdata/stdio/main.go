package main

import (
	"context"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type freeSlotsParams struct {
	Day string `json:"day" jsonschema:"Weekday to check"`
}

// freeSlots answers from a fixed calendar so tests are deterministic
func freeSlots(ctx context.Context, req *mcp.CallToolRequest, params *freeSlotsParams) (*mcp.CallToolResult, any, error) {
	if params.Day == "friday" {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "calendar locked on friday"}},
		}, nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: params.Day + ": 10:00-12:00 free"},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "calendar-stdio",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "free_slots",
		Description: "List free calendar slots for a weekday",
	}, freeSlots)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
