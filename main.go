package main

import "github.com/forgecore/engine/cmd"

func main() {
	cmd.Execute()
}
