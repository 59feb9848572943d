package main

import "credit-service/internal/cli"

func main() {
	cli.Execute()
}
