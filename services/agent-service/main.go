package main

import "github.com/stoik/aide/services/agent-service/internal/app"

func main() {
	app.Execute()
}
