package main

import "github.com/entrepeneur4lyf/chatsync/cmd/chatsync/cmd"

func main() {
	cmd.Execute()
}
