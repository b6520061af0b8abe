package main

import (
	"github.com/dinindunz/strands-agent-cli/app/cmd"
	"github.com/dinindunz/strands-agent-cli/app/util/mylog"
)

func main() {
	mylog.Preinit()

	cmd.Execute()
}
