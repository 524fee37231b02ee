package main

import "github.com/kiesman99/cogserve/cmd"

func main() {
	cmd.Execute()
}
