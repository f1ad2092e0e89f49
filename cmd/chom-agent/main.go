// chom-agent runs on every managed node and executes lifecycle verbs
// dispatched by the control plane over SSH. It prints exactly one JSON
// envelope on stdout; logs go to stderr so the envelope stays parseable.
package main

import (
	"context"
	"os"
	"time"

	"github.com/chomhq/chom/pkg/agent"
	"github.com/chomhq/chom/pkg/log"
)

const handlerTimeout = 10 * time.Minute

func main() {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stderr})

	req, err := agent.ParseArgs(os.Args[1:])
	if err != nil {
		resp := agent.Fail(2, "%v", err)
		resp.Write(os.Stdout)
		os.Exit(resp.ExitCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	resp := agent.New(agent.Config{}, nil).Dispatch(ctx, req)
	resp.Write(os.Stdout)
	os.Exit(resp.ExitCode)
}
