package main

import (
	"letterdesk/cmd/handlers"
	"letterdesk/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
