package main

import "github.com/caedis/mc-manager/cmd"

func main() {
	cmd.Execute()
}
