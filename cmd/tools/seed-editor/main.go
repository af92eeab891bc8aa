// cmd/tools/seed-editor/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"action-engine/pkg/registry"

	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "add-tier":
		err = runAddTier(os.Args[2:])
	case "allow":
		err = runAllow(os.Args[2:])
	case "disable-type":
		err = runDisableType(os.Args[2:])
	case "set-limit":
		err = runSetLimit(os.Args[2:])
	case "help", "-h", "--help":
		help()
		return
	default:
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	path := fs.String("path", "configs/seed.json", "Path to the seed file")
	return fs, path
}

func runValidate(args []string) error {
	fs, path := newFlagSet("validate")
	_ = fs.Parse(args)

	seed, err := registry.LoadSeed(*path)
	if err != nil {
		return err
	}
	addresses := 0
	for _, e := range seed.AllowList {
		addresses += len(e.Addresses)
	}
	fmt.Printf("Seed validation passed. %d tiers, %d allow-listed addresses.\n", len(seed.Tiers), addresses)
	return nil
}

func runAddTier(args []string) error {
	fs, path := newFlagSet("add-tier")
	name := fs.String("name", "", "Tier name (e.g., Basic)")
	price := fs.Int64("price", 0, "Price in the smallest currency unit")
	days := fs.Int("days", 30, "Duration in days")
	maxQueries := fs.Uint64("max-queries", 0, "Queries allowed per cycle")
	maxActions := fs.Uint64("max-actions", 0, "Actions allowed per cycle")
	features := fs.StringSlice("features", nil, "Comma separated feature flags")
	inactive := fs.Bool("inactive", false, "Create the tier deactivated")
	_ = fs.Parse(args)

	if *name == "" || *price <= 0 {
		fs.Usage()
		return fmt.Errorf("name and a positive price are required")
	}

	return edit(*path, func(seed *registry.Seed) error {
		return seed.AddTier(registry.TierSeed{
			Name:         *name,
			Price:        *price,
			DurationDays: *days,
			MaxQueries:   *maxQueries,
			MaxActions:   *maxActions,
			Features:     *features,
			Inactive:     *inactive,
		})
	})
}

func runAllow(args []string) error {
	fs, path := newFlagSet("allow")
	protocol := fs.String("protocol", "", "Protocol type (staking, dex, governance, yield, token, custom)")
	address := fs.String("address", "", "Contract address")
	_ = fs.Parse(args)

	return edit(*path, func(seed *registry.Seed) error {
		return seed.Allow(*protocol, *address)
	})
}

func runDisableType(args []string) error {
	fs, path := newFlagSet("disable-type")
	actionType := fs.String("type", "", "Action type to disable at startup")
	_ = fs.Parse(args)

	return edit(*path, func(seed *registry.Seed) error {
		for _, t := range seed.DisabledActionTypes {
			if strings.EqualFold(t, *actionType) {
				return nil
			}
		}
		seed.DisabledActionTypes = append(seed.DisabledActionTypes, *actionType)
		return nil
	})
}

func runSetLimit(args []string) error {
	fs, path := newFlagSet("set-limit")
	tier := fs.String("tier", "", "Tier name")
	limit := fs.Int64("limit", -1, "Actions per UTC day")
	_ = fs.Parse(args)

	if *tier == "" || *limit < 0 {
		fs.Usage()
		return fmt.Errorf("tier and a non-negative limit are required")
	}
	return edit(*path, func(seed *registry.Seed) error {
		if seed.DailyLimits == nil {
			seed.DailyLimits = map[string]int64{}
		}
		seed.DailyLimits[strings.ToLower(*tier)] = *limit
		return nil
	})
}

// edit loads the seed (or starts an empty one), applies fn and saves it.
func edit(path string, fn func(*registry.Seed) error) error {
	seed, err := registry.LoadSeed(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load seed: %w", err)
		}
		seed = &registry.Seed{Version: "1", Tiers: []registry.TierSeed{}}
	}
	if err := fn(seed); err != nil {
		return err
	}
	if err := registry.SaveSeed(seed, path); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}
	fmt.Printf("Updated %s\n", path)
	return nil
}

func help() {
	fmt.Print(`
Usage: seed-editor <command> [flags]

Commands:
  validate      Validate the seed file
  add-tier      Add a subscription tier
  allow         Allow-list a contract address for a protocol
  disable-type  Disable an action type at startup
  set-limit     Override the daily action cap for a tier
  help          Show this help message

Examples:
  seed-editor add-tier --name Basic --price 100 --days 30 --max-queries 100 --max-actions 10
  seed-editor allow --protocol dex --address 0xRouter
  seed-editor set-limit --tier pro --limit 150
  seed-editor validate --path configs/seed.json

Use 'seed-editor <command> -h' for more information about a command.
`)
}
