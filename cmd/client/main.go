package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/ninechess/pkg/client"
	"github.com/aeolun/ninechess/pkg/client/ui"
	"github.com/aeolun/ninechess/pkg/logging"
)

func main() {
	// Command line flags
	server := flag.String("server", "localhost:5555", "Server address (host:port, tcp://, ws:// or wss://)")
	logFile := flag.String("log", "", "Write debug logs to this file")
	flag.Parse()

	// Create connection
	conn, err := client.NewConnection(*server)
	if err != nil {
		log.Fatalf("Invalid server address: %v", err)
	}

	// The terminal belongs to the UI, so logs only go to a file
	if *logFile != "" {
		logger, err := logging.New(logging.Config{Level: "debug", Format: "json", FilePath: *logFile})
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logger.Sync()
		conn.SetLogger(logger)
	}

	// Connect to server
	if err := conn.Connect(); err != nil {
		log.Fatalf("Failed to connect to %s: %v", *server, err)
	}
	defer conn.Close()

	// Create bubbletea program
	p := tea.NewProgram(ui.NewModel(conn), tea.WithAltScreen())

	// Run the program
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sent %s, received %s\n", client.FormatBytes(conn.GetBytesSent()), client.FormatBytes(conn.GetBytesReceived()))
}
