package main

import (
	"github.com/sidkik/pagecounts/cmd"
	"github.com/sidkik/pagecounts/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
