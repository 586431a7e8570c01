package main

import "github.com/stemsi/exam-gateway/internal/cli"

func main() {
	cli.Execute()
}
