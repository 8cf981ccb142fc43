package main

import "github.com/Tyrowin/roomchat/internal/cli"

func main() {
	cli.Execute()
}
