package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/runplane/internal/transport/ws"
)

var streamCmd = &cobra.Command{
	Use:   "stream RUN_ID",
	Short: "Follow a run's events, reattaching after dropped connections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromSeq, _ := cmd.Flags().GetInt64("from-seq")
		retries, _ := cmd.Flags().GetInt("reconnects")
		return follow(args[0], fromSeq, retries)
	},
}

func init() {
	streamCmd.Flags().Int64("from-seq", 0, "first sequence number to receive")
	streamCmd.Flags().Int("reconnects", 5, "how many times to reattach after a dropped connection")
}

var errStreamDone = errors.New("stream done")

// follow prints events until the end sentinel, resuming from the last seen
// sequence number whenever the connection drops.
func follow(runID string, fromSeq int64, reconnects int) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	next := fromSeq
	for attempt := 0; ; attempt++ {
		last, err := attach(runID, next, interrupt)
		if last > 0 {
			next = last + 1
		}
		if err == nil || errors.Is(err, errStreamDone) {
			return nil
		}
		var se *serverError
		if errors.As(err, &se) || attempt >= reconnects {
			return err
		}
		fmt.Fprintf(os.Stderr, "connection lost (%v), reattaching from %d\n", err, next)
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
}

type serverError struct{ code, message string }

func (e *serverError) Error() string { return e.code + ": " + e.message }

func wsURL(runID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/runs/" + url.PathEscape(runID) + "/ws"
	return u.String(), nil
}

func attach(runID string, fromSeq int64, interrupt <-chan os.Signal) (int64, error) {
	addr, err := wsURL(runID)
	if err != nil {
		return 0, err
	}
	header := http.Header{}
	if principal != "" {
		header.Set("X-Principal", principal)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return 0, &serverError{code: "not_found", message: "run " + runID + " not found"}
		}
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ws.ClientMessage{Type: ws.TypeAttach, FromSeq: fromSeq}); err != nil {
		return 0, err
	}

	type result struct {
		last int64
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var last int64
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					err = errStreamDone
				}
				done <- result{last, err}
				return
			}
			var msg struct {
				Type    string          `json:"type"`
				Seq     int64           `json:"seq"`
				Event   string          `json:"event"`
				Data    json.RawMessage `json:"data"`
				Code    string          `json:"code"`
				Message string          `json:"message"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case ws.TypeEvent:
				last = msg.Seq
				fmt.Printf("%d\t%s\t%s\n", msg.Seq, msg.Event, msg.Data)
				_ = conn.WriteJSON(ws.ClientMessage{Type: ws.TypeAck, Seq: msg.Seq})
			case ws.TypeError:
				done <- result{last, &serverError{code: msg.Code, message: msg.Message}}
				return
			}
		}
	}()

	select {
	case r := <-done:
		return r.last, r.err
	case <-interrupt:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return 0, errStreamDone
	}
}
