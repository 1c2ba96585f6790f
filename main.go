package main

import "github.com/Alturino/cartsync/cmd"

func main() {
	cmd.Start()
}
