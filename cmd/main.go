package main

import "github.com/canopy-network/routing/cmd/cli"

func main() {
	cli.Execute()
}
