// Command image-tools runs the microscopy analysis helpers from the command
// line and serves them as MCP tools.
package main

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	Execute()
}
