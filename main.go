package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/cache"
	"github.com/openhabits/flexical/client"
	"github.com/openhabits/flexical/cmd"
	"github.com/openhabits/flexical/queue"
	"github.com/openhabits/flexical/server"
	"github.com/openhabits/flexical/storage"
)

func main() {
	// Load the .env file
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	if len(os.Args) > 1 && os.Args[1] == "shell" {
		runShell()
		return
	}
	runServer()
}

// runServer wires the storage, cache and completion queue together and
// serves the HTTP API until interrupted.
func runServer() {

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY") // JWT signing key for token verification
	serverURL := os.Getenv("SERVER_URL")       // The URL where the server is running
	dbURI := os.Getenv("MONGODB_URI")          // MongoDB database URI
	dbName := os.Getenv("DB_NAME")             // The name of the MongoDB database
	redisURL := os.Getenv("REDIS_URL")         // The Redis URL for completion flags
	rabbitMQURL := os.Getenv("RABBITMQ_URL")   // The URL for the RabbitMQ message broker
	numCompletionProducers := 1                // The number of completion producers
	numCompletionConsumers := 2                // The number of completion consumers
	ctx := context.Background()

	auth.InitAuth(signingKey)

	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatal("error initializing storage: ", err)
	}

	completionCache, err := cache.NewCache(redisURL)
	if err != nil {
		log.Fatal("error initializing cache: ", err)
	}

	// The completion queue is optional; without a broker the server still
	// records entries, it just skips re-evaluating completion state.
	var completionQueue *queue.Queue
	if rabbitMQURL != "" {
		completionQueue = queue.BuildCompletionQueue(rabbitMQURL, numCompletionProducers, numCompletionConsumers, completionCache, store)

		// Start the queue consumers
		_, _, err = completionQueue.StartConsumers(ctx)
		if err != nil {
			log.Fatal("error starting queue consumers: ", err)
		}
	}

	srv := server.NewServer(store, completionCache, completionQueue)
	go srv.Start(serverURL)

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		fmt.Println()
		fmt.Println(sig)
		store.Disconnect()
		completionCache.Disconnect()
		os.Exit(0)
	}()

	select {}
}

// runShell starts the interactive client.
func runShell() {

	// Read the environment variables
	signingKey := os.Getenv("JWT_SIGNING_KEY")
	serverURL := os.Getenv("SERVER_URL")
	authToken := os.Getenv("AUTH_TOKEN")

	client.InitClient(serverURL, signingKey, authToken)
	cmd.InitShellCmd()
	cmd.Execute()
}
