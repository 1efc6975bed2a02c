package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/morezero/livequery/pkg/client"
)

const callTimeout = 30 * time.Second

// remoteCall is a parsed query, mutate or watch invocation.
type remoteCall struct {
	command string
	url     string
	key     string
	args    json.RawMessage
}

func parseCallArgs(command string, args []string) (remoteCall, error) {
	if len(args) < 2 || len(args) > 3 {
		return remoteCall{}, fmt.Errorf("livequery %s: require <url> <key> [json]", command)
	}
	url := args[0]
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return remoteCall{}, fmt.Errorf("livequery %s: url must start with ws:// or wss://, got %q", command, url)
	}
	call := remoteCall{command: command, url: url, key: args[1]}
	if len(args) == 3 && strings.TrimSpace(args[2]) != "" {
		if !json.Valid([]byte(args[2])) {
			return remoteCall{}, fmt.Errorf("livequery %s: args are not valid JSON: %s", command, args[2])
		}
		call.args = json.RawMessage(args[2])
	}
	return call, nil
}

func runCall(call remoteCall, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl := client.Dial(dialOptions(call))
	defer cl.Close()

	if call.command == "watch" {
		return watch(ctx, cl, call, out)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := waitConnected(ctx, cl.Connection()); err != nil {
		return err
	}

	var params any
	if call.args != nil {
		params = call.args
	}
	var (
		data json.RawMessage
		err  error
	)
	if call.command == "mutate" {
		data, err = cl.Mutate(ctx, call.key, params)
	} else {
		data, err = cl.Query(ctx, call.key, params)
	}
	if err != nil {
		return err
	}
	return printJSON(out, data)
}

// dialOptions gives one-shot calls a short retry budget; watch keeps reconnecting until interrupted.
func dialOptions(call remoteCall) client.Options {
	opts := client.Options{URL: call.url, MaxAttempts: 3}
	if call.command == "watch" {
		opts.MaxAttempts = -1
	}
	return opts
}

func watch(ctx context.Context, cl *client.Client, call remoteCall, out io.Writer) error {
	failed := make(chan struct{})
	var once sync.Once
	unsub := cl.Connection().SubscribeToStatus(func(s client.Status) {
		if s == client.StatusFailed {
			once.Do(func() { close(failed) })
		}
	})
	defer unsub()

	var params any
	if call.args != nil {
		params = call.args
	}
	sub, err := cl.Watch(call.key, params, func(u client.Update) {
		if u.Err != nil {
			fmt.Fprintf(os.Stderr, "livequery watch: %v\n", u.Err)
			return
		}
		_ = printJSON(out, u.Data)
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-failed:
		return errors.New("connection failed, giving up")
	}
}

// waitConnected blocks until conn is connected, failed or ctx ends.
func waitConnected(ctx context.Context, conn *client.Connection) error {
	statuses := make(chan client.Status, 8)
	unsub := conn.SubscribeToStatus(func(s client.Status) {
		select {
		case statuses <- s:
		default:
		}
	})
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case s := <-statuses:
			switch s {
			case client.StatusConnected:
				return nil
			case client.StatusFailed:
				return errors.New("could not connect")
			}
		}
	}
}

func printJSON(out io.Writer, data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}
