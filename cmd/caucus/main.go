package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/meszmate/caucus/internal/app"
	"github.com/meszmate/caucus/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Account.JID == "" {
		fmt.Fprintln(os.Stderr, "No account configured; set [account] jid in config.toml")
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := application.Events()
	events.Subscribe(app.EventRoomInitialized, func(ev app.EventMsg) {
		fmt.Printf("joined %s\n", ev.Room.JID())
	})
	events.Subscribe(app.EventMessage, func(ev app.EventMsg) {
		if ev.Message.Kind != "" {
			fmt.Printf("[%s] %s: %s\n", ev.Room.JID(), ev.Message.Kind, ev.Message.Body)
			return
		}
		fmt.Printf("[%s] <%s> %s\n", ev.Room.JID(), ev.Message.From, ev.Message.Body)
	})
	events.Subscribe(app.EventDisconnected, func(ev app.EventMsg) {
		fmt.Println("disconnected")
	})

	if err := application.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	<-ctx.Done()
}
