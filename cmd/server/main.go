package main

import "github.com/entranthq/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
