package main

import "github.com/omnessssssssss/gallery-dl/cmd"

func main() {
	cmd.Execute()
}
