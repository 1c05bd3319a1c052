package main

import "github.com/ppiankov/actiongate/internal/cli"

func main() {
	cli.Execute()
}
