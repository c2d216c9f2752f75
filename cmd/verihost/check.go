package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devyanshu/verihost/internal/config"
	"github.com/devyanshu/verihost/internal/dispatcher"
	"github.com/devyanshu/verihost/internal/mxresolve"
	"github.com/devyanshu/verihost/internal/pattern"
	"github.com/devyanshu/verihost/internal/smtpprobe"
	"github.com/devyanshu/verihost/internal/verdictstore"
)

var (
	checkTimeout     int
	checkPort        string
	checkJSON        bool
	checkFirstName   string
	checkLastName    string
	checkCompanyHint string
)

var checkCmd = &cobra.Command{
	Use:   "check <email>",
	Short: "Verify a single email address",
	Long: `Verify a single email address through the tiered cascade:
  1. cache lookup
  2. syntax + MX + provider classification (fast tier)
  3. SMTP RCPT TO probe
  4. local-part pattern scoring
  5. optional enrichment waterfall
  6. re-verification of enriched candidates`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().IntVarP(&checkTimeout, "timeout", "t", 20, "request budget in seconds")
	checkCmd.Flags().StringVarP(&checkPort, "port", "p", "", "override SMTP port (default 25)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output as JSON")
	checkCmd.Flags().StringVar(&checkFirstName, "first-name", "", "known first name hint for pattern scoring")
	checkCmd.Flags().StringVar(&checkLastName, "last-name", "", "known last name hint for pattern scoring")
	checkCmd.Flags().StringVar(&checkCompanyHint, "company", "", "company name hint (passed with the request; pattern scoring does not use it)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	email := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.RequestBudgetFull = time.Duration(checkTimeout) * time.Second

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	store := verdictstore.NewMemoryStore()
	resolver := mxresolve.New(cfg.MXCacheTTL)
	prober := smtpprobe.New(smtpprobe.Config{
		HeloDomain:     cfg.HeloDomain,
		FromAddress:    cfg.FromAddress,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		OverallBudget:  cfg.RequestBudget,
		Port:           checkPort,
	})

	disp := dispatcher.New(cfg, store, resolver, prober, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestBudgetFull+5*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := disp.Verify(ctx, dispatcher.Request{
		Address: email,
		Hints: pattern.Hints{
			FirstName:   checkFirstName,
			LastName:    checkLastName,
			CompanyHint: checkCompanyHint,
		},
	})
	latency := time.Since(start)
	if err != nil {
		return err
	}

	if checkJSON {
		return outputJSON(resp, latency)
	}
	return outputConsole(resp, latency)
}

func outputJSON(resp dispatcher.Response, latency time.Duration) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		dispatcher.Response
		LatencyMs int64 `json:"latencyMs"`
	}{resp, latency.Milliseconds()})
}

func outputConsole(resp dispatcher.Response, latency time.Duration) error {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	cyan := color.New(color.FgCyan)
	white := color.New(color.FgWhite, color.Bold)

	fmt.Println()
	white.Printf("Address: %s\n", resp.Normalized)
	fmt.Println()

	fmt.Print("Reachability: ")
	switch resp.Reachability {
	case verdictstore.Safe:
		green.Println("SAFE")
	case verdictstore.Invalid:
		red.Println("INVALID")
	case verdictstore.Risky:
		yellow.Println("RISKY")
	case verdictstore.Unknown:
		yellow.Println("UNKNOWN")
	}

	fmt.Printf("Tier: %s\n", resp.DebugTier)
	if resp.DebugReason != "" {
		fmt.Printf("Reason: %s\n", resp.DebugReason)
	}

	fmt.Println()
	cyan.Println("Details:")
	fmt.Printf("  Role account: %s\n", boolLabel(resp.Role, red, green))
	fmt.Printf("  Free provider: %s\n", boolLabel(resp.Free, yellow, green))
	fmt.Printf("  Disposable: %s\n", boolLabel(resp.Disposable, red, green))
	fmt.Printf("  Catch-all domain: %s\n", boolLabel(resp.CatchAll, yellow, green))
	if resp.Provider != "" {
		fmt.Printf("  Mailbox provider: %s\n", resp.Provider)
	}
	if resp.SMTPCode != 0 {
		fmt.Printf("  SMTP code: %d\n", resp.SMTPCode)
	}

	fmt.Println()
	fmt.Printf("Latency: %dms\n", latency.Milliseconds())
	fmt.Println()
	return nil
}

func boolLabel(v bool, whenTrue, whenFalse *color.Color) string {
	if v {
		return whenTrue.Sprint("Yes")
	}
	return whenFalse.Sprint("No")
}
