package main

import "github.com/godyy/gcall/cmd/gcall-echo/cmd"

func main() {
	cmd.Execute()
}
