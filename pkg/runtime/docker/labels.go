package docker

// Labels used to identify mcprouter-managed Docker resources so a restart
// can reconcile running containers against the stack config instead of
// starting duplicates.
const (
	LabelManaged   = "mcprouter.managed"
	LabelStack     = "mcprouter.stack"
	LabelServer    = "mcprouter.server-id"
	LabelMCPServer = "mcprouter.mcp-server"
)

// ServerLabels returns the labels applied to an upstream MCP server's
// container.
func ServerLabels(stack, serverID, serverName string) map[string]string {
	return map[string]string{
		LabelManaged:   "true",
		LabelStack:     stack,
		LabelServer:    serverID,
		LabelMCPServer: serverName,
	}
}

// ContainerName generates a deterministic container name so Start can find
// an existing container for the same server across restarts.
func ContainerName(stack, serverID string) string {
	return "mcprouter-" + stack + "-" + serverID
}
