package main

import (
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/fenggwsx/SlashRelay/internal/client"
	"github.com/fenggwsx/SlashRelay/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	model := client.NewApp(cfg)

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		log.Fatalf("client exited: %v", err)
	}
}
