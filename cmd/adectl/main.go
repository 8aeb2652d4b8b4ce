package main

import "kinguard/internal/cli"

func main() {
	cli.Execute()
}
