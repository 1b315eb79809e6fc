package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ownide/internal/cli/command"
	"ownide/internal/cli/config"
	httpclient "ownide/internal/cli/http"
	"ownide/internal/cli/repl"
	"ownide/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token for this run")
	statePath := flag.String("state", "", "Override state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load cli state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		store.Override(*token)
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, store)
	session := repl.New(client, command.Registry(), store, repl.Options{
		PrettyJSON:  cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		HistoryFile: cfg.HistoryFile,
	})
	if err := session.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
