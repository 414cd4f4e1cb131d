package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"licensetrust/internal/config"
	"licensetrust/internal/store"
	"licensetrust/pkg/contracts/domain"
)

const licenseUsage = "usage: trustd license add|revoke|restore [flags]"

// runLicense administers the license table: trustd license add|revoke|restore.
func runLicense(args []string) error {
	if len(args) == 0 {
		return errors.New(licenseUsage)
	}

	fs := pflag.NewFlagSet("trustd license "+args[0], pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", os.Getenv("TRUST_CONFIG"), "path to the YAML config file")

	switch args[0] {
	case "add":
		var (
			lic     domain.License
			expires string
		)
		fs.StringVar(&lic.ID, "id", "", "license id (generated when empty)")
		fs.StringVar(&lic.Key, "key", "", "license key handed to the customer")
		fs.StringVar(&lic.CustomerName, "name", "", "customer name")
		fs.StringVar(&lic.CustomerEmail, "email", "", "registered customer email")
		fs.StringVar(&lic.SupportCode, "support-code", "", "optional support code")
		fs.StringVar(&lic.LicenseType, "type", "standard", "license type")
		fs.StringVar(&lic.SubscriptionType, "subscription", "", "subscription type")
		fs.StringVar(&expires, "expires", "", "expiry as YYYY-MM-DD or a duration such as 8760h")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return withStore(*configPath, func(ctx context.Context, st *store.Store) error {
			now := time.Now().UTC()
			at, err := parseExpiry(expires, now)
			if err != nil {
				return err
			}
			lic.ExpiresAt = at
			lic.CreatedAt = now
			if err := prepareLicense(&lic); err != nil {
				return err
			}
			if err := st.CreateLicense(ctx, &lic); err != nil {
				return err
			}
			fmt.Printf("license %s created, expires %s\n", lic.ID, lic.ExpiresAt.Format(time.RFC3339))
			return nil
		})

	case "revoke", "restore":
		id := fs.String("id", "", "license id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("--id is required")
		}
		revoked := args[0] == "revoke"
		return withStore(*configPath, func(ctx context.Context, st *store.Store) error {
			if err := st.SetLicenseRevoked(ctx, *id, revoked); err != nil {
				return err
			}
			fmt.Printf("license %s revoked=%t\n", *id, revoked)
			return nil
		})

	default:
		return fmt.Errorf("unknown license command %q; %s", args[0], licenseUsage)
	}
}

func withStore(configPath string, fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database, nil)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

// prepareLicense checks the required fields and fills the generated ones.
func prepareLicense(lic *domain.License) error {
	lic.Key = strings.TrimSpace(lic.Key)
	lic.CustomerEmail = strings.TrimSpace(lic.CustomerEmail)
	if lic.Key == "" || lic.CustomerEmail == "" {
		return fmt.Errorf("--key and --email are required")
	}
	if !strings.Contains(lic.CustomerEmail, "@") {
		return fmt.Errorf("invalid email %q", lic.CustomerEmail)
	}
	if lic.ID == "" {
		lic.ID = uuid.NewString()
	}
	return nil
}

// parseExpiry accepts a calendar date (end of that day, UTC) or a duration
// from now.
func parseExpiry(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("--expires is required")
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d.Add(24*time.Hour - time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid --expires %q", s)
	}
	return now.Add(d), nil
}
