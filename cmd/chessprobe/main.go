package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/cheese-live/internal/identity"
	"github.com/park285/cheese-live/internal/protocol"
	"github.com/park285/cheese-live/internal/wsclient"
)

// chessprobe connects to a running server and plays from stdin.
//
//	find         request an opponent (when AUTO_MATCH is off)
//	timeout      ask the server to check the clock
//	<san>        play a move
func main() {
	url := flag.String("url", envOr("CHESS_WS_URL", "ws://localhost:8080/ws/game"), "websocket endpoint")
	token := flag.String("token", os.Getenv("CHESS_TOKEN"), "bearer token")
	as := flag.String("as", "", "mint a token for this participant using JWT_SECRET")
	flag.Parse()

	if *as != "" {
		a, err := identity.NewJWTAuthenticator(os.Getenv("JWT_SECRET"), time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		if *token, err = a.Issue(*as, *as); err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	c := wsclient.New(*url, wsclient.WithToken(*token))
	done := make(chan struct{})
	c.OnStateChange(func(state wsclient.State) {
		log.Printf("WS state: %s", state)
		if state == wsclient.StateDisconnected {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	c.OnEvent(func(ev protocol.Event) {
		raw, _ := protocol.EncodeEvent(ev)
		fmt.Printf("<- %s\n", raw)
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	resp, err := c.Connect(cctx)
	cancel()
	if err != nil {
		if resp != nil {
			log.Fatalf("connect refused: %s", resp.Status)
		}
		log.Fatalf("connect error: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case <-done:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if line == "" {
				continue
			}
			var cmd protocol.Command
			switch line {
			case "find":
				cmd = protocol.FindOpponent{}
			case "timeout":
				cmd = protocol.EndIfTimeout{}
			default:
				cmd = protocol.Move{SAN: line}
			}
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Send(sctx, cmd); err != nil {
				log.Printf("send error: %v", err)
			}
			scancel()
		}
	}

	ctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	_ = c.Close(ctx)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
