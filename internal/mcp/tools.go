package mcp

import "github.com/mark3labs/mcp-go/mcp"

var summarizeToolDef = mcp.NewTool("summary_summarize",
	mcp.WithDescription("Summarize text, or the visible text of a web page when url is given. "+
		"Requires an API key to be configured. The summary is not saved; call summary_save to keep it."),
	mcp.WithString("text", mcp.Description("Text to summarize")),
	mcp.WithString("url", mcp.Description("Page to load and summarize when text is empty")),
)

var saveToolDef = mcp.NewTool("summary_save",
	mcp.WithDescription("Save a summary at the front of the collection. Returns the new id and the full collection."),
	mcp.WithString("summary", mcp.Required(), mcp.Description("Summary text")),
	mcp.WithString("url", mcp.Description("Source page URL")),
	mcp.WithString("title", mcp.Description("Source page title")),
)

var deleteToolDef = mcp.NewTool("summary_delete",
	mcp.WithDescription("Delete a saved summary by id. Deleting an unknown id succeeds and changes nothing."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Summary id")),
)

var listToolDef = mcp.NewTool("summary_list",
	mcp.WithDescription("List saved summaries, newest first."),
)

var toggleToolDef = mcp.NewTool("extension_toggle",
	mcp.WithDescription("Turn summarizing on or off for every page."),
	mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("New toggle value")),
)
