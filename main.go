package main

import "github.com/0xmetaHQ/merchant-demo/internal/cmd"

func main() {
	cmd.Execute()
}
