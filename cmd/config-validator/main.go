package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/enricher"
	"github.com/orgoj/logrelay/internal/iputil"
	"github.com/orgoj/logrelay/internal/route"
	"github.com/orgoj/logrelay/internal/sink"
)

func main() {
	flag.Parse()

	if len(flag.Args()) < 1 {
		fmt.Println("Error: Config file path is required")
		fmt.Println("Usage: config-validator <config-file>")
		os.Exit(1)
	}
	configPath := flag.Args()[0]

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if err := validateConfig(cfg); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Printf("Validation error: %v\n", e)
		}
		os.Exit(1)
	}

	for _, sc := range cfg.Sinks {
		state := "enabled"
		if !sc.IsEnabled() {
			state = "disabled"
		}
		f, _ := route.FromConfig(sc)
		fmt.Printf("  sink %-16s %-13s %-8s routes %s\n", sc.Name, sc.Type, state, f)
	}
	fmt.Println("Configuration is valid!")
}

// validateConfig runs the checks that need more than the config package:
// pieces that are only compiled when the relay starts.
func validateConfig(cfg *config.Config) error {
	var errs error

	enabled := 0
	for _, sc := range cfg.Sinks {
		if !sc.IsEnabled() {
			continue
		}
		enabled++
		if _, err := route.FromConfig(sc); err != nil {
			errs = multierr.Append(errs, err)
		}
		if sc.Rotation != nil {
			if _, err := sink.NewRotationPolicy(sc.Rotation); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("sink '%s': %w", sc.Name, err))
			}
		}
	}
	if enabled == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one sink must be enabled"))
	}

	if cfg.Server.Enabled {
		if _, err := iputil.NewResolver(cfg.Server.TrustedProxies, cfg.Server.ClientIPHeader); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := iputil.NewAllowlist(cfg.Server.AdminAllowedIPs); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("admin_allowed_ips: %w", err))
		}
		if _, err := enricher.New(cfg.Server.AddAttributes); err != nil {
			errs = multierr.Append(errs, err)
		}
		if len(cfg.Server.AdminAllowedIPs) == 0 {
			fmt.Println("Note: admin_allowed_ips is empty, admin endpoints answer loopback clients only")
		}
		if cfg.Security.Token.Secret == "" {
			fmt.Println("Warning: security.token.secret is empty, /emit will accept unauthenticated records")
		}
	}
	return errs
}
