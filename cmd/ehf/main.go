package main

import "github.com/sirosfoundation/go-ehf/internal/cli"

func main() {
	cli.Execute()
}
