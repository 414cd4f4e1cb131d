package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"licensetrust/internal/app"
	"licensetrust/internal/certificate"
	"licensetrust/internal/config"
	"licensetrust/pkg/contracts"
)

const usage = `usage: certagent <command> [flags]

commands:
  run      sync pending certificates until interrupted
  sync     run one sync pass and exit
  issue    issue a certificate for a completed unit of work
  verify   verify a certificate id
  status   print local certificate counts
  version  print the version`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil && !errors.Is(err, pflag.ErrHelp) {
		slog.Error("certagent failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "version":
		fmt.Fprintln(out, contracts.GetFullVersionString(app.AgentName))
		return nil
	case "run", "sync", "issue", "verify", "status":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	fs := pflag.NewFlagSet("certagent "+cmd, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", os.Getenv("TRUST_CONFIG"), "path to the YAML config file")

	var (
		req      certificate.IssueRequest
		metadata []string
	)
	if cmd == "issue" {
		fs.StringVar(&req.LicenseID, "license", "", "license id the work was done under")
		fs.StringVar(&req.ModuleCode, "module", "", "3 character module code")
		fs.StringVar(&req.ProjectID, "project", "", "project id")
		fs.StringVar(&req.DataHash, "hash", "", "hash of the certified data")
		fs.StringArrayVar(&metadata, "meta", nil, "metadata as key=value, repeatable")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		return err
	}
	agent, err := app.NewAgent(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	if cmd == "run" {
		return agent.Run(ctx)
	}
	defer agent.Close(context.Background())

	switch cmd {
	case "sync":
		report, err := agent.SyncOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, report)

	case "issue":
		if req.Metadata, err = parseMetadata(metadata); err != nil {
			return err
		}
		cert, err := agent.Issue(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(out, cert)

	case "verify":
		if fs.NArg() != 1 {
			return errors.New("usage: certagent verify <certificate-id>")
		}
		res, err := agent.Verify(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "status":
		st, err := agent.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, st)
	}
	return nil
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		m[k] = v
	}
	return m, nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
