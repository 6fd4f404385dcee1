package main

import (
	"deskify/cmd/cli"
)

func main() {
	cli.Execute()
}
