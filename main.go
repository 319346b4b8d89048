package main

import "github.com/de101/dataportal/cmd"

func main() {
	cmd.Execute()
}
