package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lockpick/tracker/internal/loader"
	"github.com/lockpick/tracker/pkg/gamedef"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <rulepack.json>\n", os.Args[0])
		os.Exit(1)
	}

	filename := os.Args[1]
	if err := validateFile(filename); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Rule pack is valid!")
}

func validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	if !strings.HasSuffix(baseName, ".json") {
		return fmt.Errorf("rule pack must have .json extension: %s", baseName)
	}

	// Quiet logger: the tool's own output is the report.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	result, err := loader.LoadPack(filename, log)
	if err != nil {
		return err
	}

	if warnings := lintPack(result.Pack); len(warnings) > 0 {
		fmt.Println("Warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	summarize(result.Pack)
	return nil
}

var validGameIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

// lintPack reports non-fatal issues: structural validity is already
// guaranteed by the loader, so everything here is advisory.
func lintPack(p *gamedef.Pack) []string {
	var warnings []string

	if !validGameIDRegex.MatchString(p.Game) {
		warnings = append(warnings, fmt.Sprintf("game id '%s' should be lowercase snake_case", p.Game))
	}

	// Regions no exit leads to and no start flag can only be reached via
	// checked-location seeding; usually a mistake.
	inbound := map[string]bool{}
	for _, region := range p.Regions {
		for _, exit := range region.Exits {
			inbound[exit.To] = true
		}
	}
	for name, region := range p.Regions {
		if !region.Start && !inbound[name] {
			warnings = append(warnings, fmt.Sprintf("region '%s' has no inbound exits and is not a start region", name))
		}
	}

	for name := range p.Locations {
		if strings.TrimSpace(name) != name {
			warnings = append(warnings, fmt.Sprintf("location '%s' has leading or trailing whitespace", name))
		}
	}

	for group, members := range p.Groups {
		if len(members) == 0 {
			warnings = append(warnings, fmt.Sprintf("group '%s' has no members", group))
		}
	}

	sort.Strings(warnings)
	return warnings
}

func summarize(p *gamedef.Pack) {
	fmt.Printf("  game:      %s\n", p.Game)
	if p.Version != "" {
		fmt.Printf("  version:   %s\n", p.Version)
	}
	fmt.Printf("  items:     %d\n", len(p.Items))
	fmt.Printf("  groups:    %d\n", len(p.Groups))
	fmt.Printf("  regions:   %d (start: %s)\n", len(p.Regions), strings.Join(p.StartRegions(), ", "))
	fmt.Printf("  locations: %d\n", len(p.Locations))
}
