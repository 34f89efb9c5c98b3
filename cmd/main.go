package main

import (
	"log"
	"os"
	"os/signal"
	"time"

	chatwsserver "gitlab.com/lake42/go-websocket-server/chatwsserver"
)

func main() {
	// Create and start chat websocket server -> localhost:8080
	srv, err := chatwsserver.NewChatWebsocketServer("localhost", 8080, nil, nil)
	if err != nil {
		panic(err)
	}
	if err := srv.Start(); err != nil {
		panic(err)
	}
	// Wait for shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	<-sigs
	log.Println("Application shutdown initiated")
	// Close server
	srv.Stop()
	time.Sleep(time.Second)
}
