package main

import "github.com/mame82/dapflash/cmd"

func main() {
	cmd.Execute()
}
