// dashtail logs in to orderfeed and prints live order events.
// Usage: go run ./cmd/dashtail --url http://localhost:8080 --email chef@example.com
//
// The password is read from ORDERFEED_PASSWORD. Pass --token to reuse an
// existing session instead of logging in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/orderfeed/internal/api"
	"github.com/rickgao/orderfeed/internal/codec"
	"github.com/rickgao/orderfeed/internal/config"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "orderfeed base URL")
	email := flag.String("email", "", "login email")
	token := flag.String("token", "", "existing session token (skips login)")
	wsPath := flag.String("ws-path", config.DefaultWSPath, "websocket path")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(*baseURL, *token, api.WithLogger(logger), api.WithTimeout(10*time.Second))

	if *token == "" {
		if *email == "" {
			logger.Error("either --token or --email is required")
			os.Exit(2)
		}
		resp, err := client.Login(ctx, *email, os.Getenv("ORDERFEED_PASSWORD"))
		if err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		logger.Info("logged in", "role", resp.Role, "expires_at", resp.ExpiresAt)
	}
	loggedIn := *token == ""

	wsURL, err := client.WebsocketURL(*wsPath)
	if err != nil {
		logger.Error("invalid url", "error", err)
		os.Exit(1)
	}

	err = tail(ctx, wsURL, *verbose, logger)

	if loggedIn {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if lerr := client.Logout(logoutCtx); lerr != nil {
			logger.Warn("logout failed", "error", lerr)
		}
		cancel()
	}

	if err != nil {
		logger.Error("feed ended", "error", err)
		os.Exit(1)
	}
}

// tail reads events until ctx is cancelled or the server closes the feed.
func tail(ctx context.Context, wsURL string, verbose bool, logger *slog.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	logger.Info("connected", "url", wsURL)

	var count int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case ctx.Err() != nil:
				logger.Info("stopped", "events", count)
				return nil
			case errors.As(err, &ce):
				if ce.Code == websocket.CloseNormalClosure {
					return nil
				}
				return fmt.Errorf("closed by server: %d %s", ce.Code, ce.Text)
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		count++

		order, err := codec.Decode(data)
		if err != nil {
			logger.Warn("undecodable event", "error", err, "raw", string(data))
			continue
		}

		if verbose {
			fmt.Println(string(data))
			continue
		}
		fmt.Printf("%s  %-36s  %-9s  %-8s  %8.2f  items=%d\n",
			time.Now().Format("15:04:05"),
			order.ID,
			order.Status,
			order.Type,
			order.TotalCost,
			len(order.Items),
		)
	}
}
