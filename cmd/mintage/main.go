package main

import (
	"mintage/cmd/handlers"
	"mintage/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
