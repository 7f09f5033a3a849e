package main

import "github.com/cristianradulescu/mdfence-ls/cmd"

func main() {
	cmd.Execute()
}
