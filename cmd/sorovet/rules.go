package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/sorovet/sorovet"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the built-in rule catalog",
	Long:  `Print every rule of the embedded catalog: diagnostic rules with their severity and message, plus vocabulary entries that only feed completion and hover`,
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

func init() {
	rulesCmd.Flags().Bool("json", false, "emit the catalog as JSON instead of a table")
}

// catalogRule is the JSON shape of one catalog entry.
type catalogRule struct {
	ID            string `json:"id"`
	Category      string `json:"category"`
	Severity      string `json:"severity,omitempty"`
	Message       string `json:"message,omitempty"`
	HasCompletion bool   `json:"has_completion"`
	HasDocs       bool   `json:"has_docs"`
}

func runRules(cmd *cobra.Command, args []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}

	catalog, err := sorovet.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("failed to load rule catalog: %w", err)
	}

	entries := make([]catalogRule, 0, catalog.Len())
	for _, rule := range catalog.Rules() {
		entry := catalogRule{
			ID:            rule.ID,
			Category:      string(rule.Category),
			HasCompletion: rule.Completion != nil,
			HasDocs:       rule.Docs != "",
		}
		if rule.Severity != 0 {
			entry.Severity = severityName(rule.Severity)
			entry.Message = rule.Message
		}
		entries = append(entries, entry)
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(entries); err != nil {
			return fmt.Errorf("failed to encode catalog: %w", err)
		}
		return nil
	}

	printCatalogTable(entries, useColor(cmd, os.Stdout))
	fmt.Printf("\n%d rules (catalog %s)\n", catalog.Len(), catalog.Hash()[:12])
	return nil
}

func printCatalogTable(entries []catalogRule, colorize bool) {
	headerColor := color.New(color.Bold)
	dimColor := color.New(color.FgHiBlack)
	if !colorize {
		headerColor.DisableColor()
		dimColor.DisableColor()
	}

	idWidth, catWidth := runewidth.StringWidth("RULE"), runewidth.StringWidth("CATEGORY")
	for _, e := range entries {
		if w := runewidth.StringWidth(e.ID); w > idWidth {
			idWidth = w
		}
		if w := runewidth.StringWidth(e.Category); w > catWidth {
			catWidth = w
		}
	}

	fmt.Printf("%s  %s  %-8s  %s\n",
		headerColor.Sprint(runewidth.FillRight("RULE", idWidth)),
		headerColor.Sprint(runewidth.FillRight("CATEGORY", catWidth)),
		headerColor.Sprint("SEVERITY"),
		headerColor.Sprint("MESSAGE"))
	for _, e := range entries {
		severity := e.Severity
		message := e.Message
		if severity == "" {
			severity = dimColor.Sprint("-")
			message = dimColor.Sprint("(vocabulary entry)")
		}
		fmt.Printf("%s  %s  %-8s  %s\n",
			runewidth.FillRight(e.ID, idWidth),
			runewidth.FillRight(e.Category, catWidth),
			severity,
			message)
	}
}
