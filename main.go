package main

import "github.com/inkpost/apiserver/cmd"

func main() {
	cmd.Execute()
}
