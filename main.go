package main

import "github.com/timvw/pane-expect/cmd"

func main() {
	cmd.Execute()
}
