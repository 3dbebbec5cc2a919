package main

import "github.com/peerhub/apiserver/cmd"

func main() {
	cmd.Execute()
}
