package main

import (
	"context"
	"solwatch/cmd/solwatch/commands"
	"solwatch/lib/osutil"
)

func main() {
	ctx, stop := osutil.SignalContext(context.Background())
	defer stop()
	commands.ExecuteContext(ctx)
}
