package main

import "freightdesk/cmd"

func main() {
	cmd.Execute()
}
