package main

import (
	"lending-rate-engine/internal/cli"
)

func main() {
	cli.Execute()
}
