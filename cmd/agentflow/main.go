// Command agentflow is the entry point for the conversational sales-agent
// platform. It provides a CLI interface (via Cobra) and an HTTP server
// exposing the builder, ingestion, and chat APIs.
package main

import (
	"fmt"
	"os"

	"github.com/thisal-thulnith/agent-flow-sub001/cmd/agentflow/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
