package main

import "github.com/your-org/facegate/internal/cli"

func main() {
	cli.Execute()
}
