// Command magpie is the workflow automation CLI: it authors workflow
// definitions from plain-language descriptions, executes them through the
// state-graph engine, and manages the knowledge base behind authoring.
package main

import (
	"os"

	"github.com/magpieflow/magpie/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
