package main

import "github.com/nextlevelbuilder/xbot/cmd"

func main() {
	cmd.Execute()
}
