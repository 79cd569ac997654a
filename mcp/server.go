package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates the MCP server exposing the archive as tools.
func NewMCPServer(h *Handler, name string, version string) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
	)

	listConversationsTool := mcp.NewTool("list_conversations",
		mcp.WithDescription("List archived conversations, most recently active first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of conversations to return (default 20)"),
		),
	)

	getMessagesTool := mcp.NewTool("get_messages",
		mcp.WithDescription("Retrieve the message history of a conversation, ordered by date ascending"),
		mcp.WithString("peer_id",
			mcp.Required(),
			mcp.Description("Peer id of the conversation"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return, newest kept (default 50)"),
		),
	)

	getProfileTool := mcp.NewTool("get_profile",
		mcp.WithDescription("Retrieve the stored profile of a peer"),
		mcp.WithString("peer_id",
			mcp.Required(),
			mcp.Description("Peer id of the conversation"),
		),
	)

	searchContactsTool := mcp.NewTool("search_contacts",
		mcp.WithDescription("Search archived profiles by name or username, case-insensitively"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search term matched against first name, last name and username"),
		),
	)

	sendMessageTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a text message to a peer through the running bridge"),
		mcp.WithString("peer_id",
			mcp.Required(),
			mcp.Description("Peer id of the recipient"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The text of the message to send"),
		),
	)

	s.AddTool(listConversationsTool, h.listConversationsHandler)
	s.AddTool(getMessagesTool, h.getMessagesHandler)
	s.AddTool(getProfileTool, h.getProfileHandler)
	s.AddTool(searchContactsTool, h.searchContactsHandler)
	s.AddTool(sendMessageTool, h.sendMessageHandler)

	return s
}

// StartMCPServer serves the MCP protocol over stdio.
func StartMCPServer(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
