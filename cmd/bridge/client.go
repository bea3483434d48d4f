package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/morezero/desktop-bridge/internal/config"
	"github.com/morezero/desktop-bridge/pkg/commsutil"
	"github.com/morezero/desktop-bridge/pkg/envelope"
	"github.com/morezero/desktop-bridge/pkg/events"
	"github.com/morezero/desktop-bridge/pkg/frontend"
)

type invokeRequest struct {
	label   string
	module  envelope.Module
	message json.RawMessage
}

type emitRequest struct {
	label   string
	event   string
	payload json.RawMessage
}

type listenRequest struct {
	label string
	event string
}

func parseInvokeArgs(args []string) (*invokeRequest, error) {
	if len(args) != 3 {
		return nil, errors.New("usage: bridge invoke <label> <module> <json>")
	}
	if err := events.ValidateLabel(args[0]); err != nil {
		return nil, err
	}
	msg := json.RawMessage(args[2])
	// Validates module, cmd and object shape before anything is sent.
	if _, err := envelope.New(envelope.Module(args[1]), msg, 1, 2); err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	return &invokeRequest{label: args[0], module: envelope.Module(args[1]), message: msg}, nil
}

func parseEmitArgs(args []string) (*emitRequest, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, errors.New("usage: bridge emit <label> <event> [json]")
	}
	req := &emitRequest{label: args[0], event: args[1]}
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return nil, fmt.Errorf("payload %q is not valid JSON", args[2])
		}
		req.payload = json.RawMessage(args[2])
	}
	if err := events.ValidateName(req.event); err != nil {
		return nil, err
	}
	return req, nil
}

func parseListenArgs(args []string) (*listenRequest, error) {
	if len(args) != 2 {
		return nil, errors.New("usage: bridge listen <label> <event>")
	}
	if err := events.ValidateLabel(args[0]); err != nil {
		return nil, err
	}
	if err := events.ValidateName(args[1]); err != nil {
		return nil, err
	}
	return &listenRequest{label: args[0], event: args[1]}, nil
}

// cliLabel returns a window label of the CLI's own, so it never shares the
// reply subject or the attachment of a real window.
func cliLabel() string {
	return "cli-" + uuid.NewString()[:8]
}

// targetWindow points a Window.manage message at label unless it already
// names a window. Other messages are returned unchanged.
func targetWindow(module envelope.Module, msg json.RawMessage, label string) (json.RawMessage, error) {
	if module != envelope.ModuleWindow {
		return msg, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	if string(fields["cmd"]) != `"manage"` {
		return msg, nil
	}
	data := map[string]json.RawMessage{}
	if raw, ok := fields["data"]; ok {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("message data: %w", err)
		}
	}
	if _, ok := data["label"]; ok {
		return msg, nil
	}
	quoted, err := json.Marshal(label)
	if err != nil {
		return nil, err
	}
	data["label"] = quoted
	if fields["data"], err = json.Marshal(data); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// connect attaches to a running bridge over NATS under a fresh CLI label.
func connect() (*config.Config, func(), *frontend.Runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return nil, nil, nil, err
	}
	rt, err := frontend.ConnectNATS(nc, cfg.SubjectPrefix, cliLabel())
	if err != nil {
		nc.Close()
		return nil, nil, nil, err
	}
	closeAll := func() {
		_ = rt.Close()
		nc.Close()
	}
	return cfg, closeAll, rt, nil
}

func runInvoke(req *invokeRequest) error {
	msg, err := targetWindow(req.module, req.message, req.label)
	if err != nil {
		return err
	}
	cfg, closeAll, rt, err := connect()
	if err != nil {
		return err
	}
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	result, err := rt.Invoke(ctx, req.module, msg)
	if err != nil {
		return err
	}
	fmt.Println(string(result))
	return nil
}

func runEmit(req *emitRequest) error {
	cfg, closeAll, rt, err := connect()
	if err != nil {
		return err
	}
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	return rt.Events().Emit(ctx, req.event, req.label, req.payload)
}

func runListen(req *listenRequest) error {
	cfg, closeAll, rt, err := connect()
	if err != nil {
		return err
	}
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	unlisten, err := rt.Events().Listen(ctx, req.event, req.label, func(ev events.Event) {
		line, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(line))
	})
	cancel()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel = context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	return unlisten(ctx)
}
