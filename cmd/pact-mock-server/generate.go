package main

import (
	"fmt"

	"github.com/form3tech-oss/pact-mock-server/internal/app/generator"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate example values",
}

var generateRegexCmd = &cobra.Command{
	Use:   "regex <pattern>",
	Short: "Print a random string matching the regular expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := generator.GenerateRegexValue(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var generateDatetimeCmd = &cobra.Command{
	Use:   "datetime <format>",
	Short: "Print the current time in a date/time pattern such as yyyy-MM-dd'T'HH:mm:ss",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := generator.GenerateDatetime(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

func init() {
	generateCmd.AddCommand(generateRegexCmd, generateDatetimeCmd)
	rootCmd.AddCommand(generateCmd)
}
