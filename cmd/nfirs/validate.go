package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/pipeline"
)

func createValidateCmd(a *app) *cobra.Command {
	var (
		years        []int
		allowPartial bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check geocoded datasets against their cleaned datasets",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if len(years) == 0 {
				var err error
				if years, err = a.store.GeocodedYears(); err != nil {
					return err
				}
			}

			failed := 0
			for _, year := range years {
				v, err := pipeline.ValidateYear(a.store, year, allowPartial)
				if err != nil {
					return fmt.Errorf("validate %d: %w", year, err)
				}
				printValidation(v)
				if !v.Passed() {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d years failed validation", failed, len(years))
			}
			if len(years) == 0 {
				return errors.New("no geocoded datasets to validate")
			}
			fmt.Println("\nAll validations passed.")
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&years, "years", nil, "years to validate (default: every geocoded year)")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "accept cleaned records without a geocoded row")
	return cmd
}

func printValidation(v pipeline.Validation) {
	fmt.Printf("=== %d: %d cleaned records, %d geocoded rows ===\n", v.Year, v.Records, v.Geocoded)
	for _, p := range v.Phases {
		status := "\033[32mPASS\033[0m"
		if !p.Passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", p.Failed)
		}
		fmt.Printf("  %-24s %s\n", p.Name, status)
	}
	for _, p := range v.Phases {
		if p.Passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.Name)
		for i, e := range p.Errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		if p.Failed > len(p.Errors) {
			fmt.Printf("  ... %d more\n", p.Failed-len(p.Errors))
		}
	}
}
