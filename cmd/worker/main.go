package main

import "github.com/sshscan/sshscan-worker/internal/cli"

func main() {
	cli.Execute()
}
