package main

import "github.com/busybox42/sockmailer/cmd/sockmailer/commands"

func main() {
	commands.Execute()
}
