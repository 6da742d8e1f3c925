package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hypnobot-ai/hypnoguard/internal/engine"
	"github.com/hypnobot-ai/hypnoguard/internal/rules"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rulesPath string

func main() {
	root := &cobra.Command{
		Use:   "hypnoguard",
		Short: "Offline safety evaluation for hypnotherapy chatbot responses",
		Long: "Evaluates user messages and proposed chatbot responses against the " +
			"configured safety rules, without a running server.",
	}

	root.PersistentFlags().StringVarP(&rulesPath, "rules", "r", "config/safety_rules.yaml", "path to the safety rules file")

	root.AddCommand(checkCmd())
	root.AddCommand(rulesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// checkOutput is the JSON document printed by the check command.
type checkOutput struct {
	SeverityLevel     int                    `json:"severity_level"`
	Severity          string                 `json:"severity"`
	Intervention      string                 `json:"intervention"`
	FinalResponse     string                 `json:"final_response"`
	Triggers          []string               `json:"triggers"`
	MatchingRules     []engine.MatchResult   `json:"matching_rules"`
	DominantRule      string                 `json:"dominant_rule,omitempty"`
	Reasoning         string                 `json:"reasoning"`
	EscalationContact string                 `json:"escalation_contact,omitempty"`
}

func checkCmd() *cobra.Command {
	var message, response, mode string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a message/response pair against the safety rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" && response == "" {
				return fmt.Errorf("at least one of --message or --response is required")
			}

			logger := mustBuildCLILogger()
			defer logger.Sync() //nolint:errcheck

			snap := rules.Load(rulesPath, logger)

			matchMode := snap.Mode
			if mode != "" {
				matchMode = engine.ParseMatchMode(mode)
			}

			in := engine.Input{UserMessage: message, ProposedResponse: response}
			dec, final := engine.EvaluateAndRender(in, snap.Rules, matchMode, snap.Resources)

			triggers := dec.AllTriggers
			if triggers == nil {
				triggers = []string{}
			}
			matching := dec.MatchingRules
			if matching == nil {
				matching = []engine.MatchResult{}
			}

			out := checkOutput{
				SeverityLevel:     int(dec.SeverityLevel),
				Severity:          dec.SeverityLevel.String(),
				Intervention:      dec.Intervention.String(),
				FinalResponse:     final,
				Triggers:          triggers,
				MatchingRules:     matching,
				DominantRule:      dec.DominantRule,
				Reasoning:         dec.Reasoning,
				EscalationContact: dec.EscalationContact,
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "user message to evaluate")
	cmd.Flags().StringVarP(&response, "response", "p", "", "proposed chatbot response to evaluate")
	cmd.Flags().StringVar(&mode, "mode", "", "keyword match mode: substring or word (default: from rules file)")

	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate the safety rules file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load the rules file and report what would take effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := mustBuildCLILogger()
			defer logger.Sync() //nolint:errcheck

			snap := rules.Load(rulesPath, logger)

			fmt.Printf("file:       %s\n", snap.Path)
			fmt.Printf("rules:      %d\n", len(snap.Rules))
			fmt.Printf("dropped:    %d\n", snap.Dropped)
			fmt.Printf("match mode: %s\n", snap.Mode)
			for i := range snap.Rules {
				r := &snap.Rules[i]
				fmt.Printf("  - %s (%s) severity=%s action=%s keywords=%d patterns=%d\n",
					r.ID, r.Category, r.Severity, r.Action, len(r.Keywords), len(r.Patterns))
			}

			if snap.Fallback {
				return fmt.Errorf("rules file unusable; built-in crisis rule would take effect")
			}
			if snap.Dropped > 0 {
				return fmt.Errorf("%d rule(s) would be dropped", snap.Dropped)
			}
			return nil
		},
	})

	return cmd
}

// mustBuildCLILogger builds a console logger that keeps loader warnings
// visible on stderr without polluting the JSON on stdout.
func mustBuildCLILogger() *zap.Logger {
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapcore.WarnLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
