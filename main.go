package main

import "github.com/avhult/thinkterm/cmd"

func main() {
	cmd.Execute()
}
