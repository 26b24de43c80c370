package main

import "github.com/eggpi/similarity/cmd"

func main() {
	cmd.Execute()
}
