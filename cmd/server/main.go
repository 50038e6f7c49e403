package main

import (
	"log"

	approuters "sharecare/internal/app_routers"
	"sharecare/internal/configuration"

	"github.com/joho/godotenv"
)

func main() {
	// Optional .env for SHARECARE_CONFIG and friends.
	_ = godotenv.Load()

	container, err := configuration.BuildContainer()
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	approuters.StartServer(container)
}
