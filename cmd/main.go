package main

import (
	"github.com/system-sensors/cmd/agent"
)

func main() {
	agent.Execute()
}
