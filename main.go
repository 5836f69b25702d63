// quill is a session-scoped pipeline orchestrator for multi-stage content
// production. It drives a research -> writing -> editing pipeline across
// agents, persisting every intermediate artifact so a run can be resumed
// after a crash.
package main

import "github.com/quill-dev/quill/internal/cli"

func main() {
	cli.Execute()
}
