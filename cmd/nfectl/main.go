package main

import "github.com/garyjia/nfe-danfe/internal/cli"

func main() {
	cli.Execute()
}
