package cli

import (
	"fmt"
	"time"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/joincode"
	"github.com/spf13/cobra"
)

// NewJoinCodeCmd groups the join-code utilities an instructor uses at the
// podium: generating the code announced at quiz start and checking one a
// student reports back.
func NewJoinCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "joincode",
		Short: "Generate and verify quiz join codes",
	}
	cmd.AddCommand(newJoinCodeGenCmd())
	cmd.AddCommand(newJoinCodeVerifyCmd())
	return cmd
}

func newJoinCodeGenCmd() *cobra.Command {
	var secret, startRaw string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a join code for a start instant",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if startRaw != "" {
				var err error
				start, err = time.Parse(time.RFC3339, startRaw)
				if err != nil {
					return fmt.Errorf("parse start: %w", err)
				}
			}
			code, err := joincode.Generate(secret, start)
			if err != nil {
				return err
			}
			fmt.Println(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "quiz unlock password")
	cmd.Flags().StringVar(&startRaw, "start", "", "start instant, RFC3339 (default now)")
	cmd.MarkFlagRequired("secret")
	return cmd
}

func newJoinCodeVerifyCmd() *cobra.Command {
	var secret string
	var latency int
	cmd := &cobra.Command{
		Use:   "verify <code>",
		Short: "Verify a join code against the current clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := joincode.Verify(args[0], secret, latency, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("valid, issued for %s\n", start.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "quiz unlock password")
	cmd.Flags().IntVar(&latency, "latency", 15, "acceptance window in minutes")
	cmd.MarkFlagRequired("secret")
	return cmd
}
