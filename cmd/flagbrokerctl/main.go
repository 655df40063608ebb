// Command flagbrokerctl is the operator CLI for a running flagbroker
// daemon: it talks to the admin JSON surface over plain HTTP and prints
// scheduler status as a table or as JSON.
package main

import "github.com/lattice-ctf/flagbroker/cmd/flagbrokerctl/commands"

func main() {
	commands.Execute()
}
