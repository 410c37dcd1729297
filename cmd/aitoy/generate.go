package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
)

// cliClient is the ledger identity used for generations started from the CLI.
const cliClient = "cli"

type requestFlags struct {
	style       string
	character   string
	material    string
	colorScheme string
	custom      string
	language    string
	reference   string
	mode        string
	count       int
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.style, "style", "", "template style: blindBox, plush, keychain, figure")
	cmd.Flags().StringVar(&f.character, "character", "", "character rendered by the style template")
	cmd.Flags().StringVar(&f.material, "material", "", "material override")
	cmd.Flags().StringVar(&f.colorScheme, "color-scheme", "", "pastel, vibrant, monochrome or natural")
	cmd.Flags().StringVar(&f.custom, "custom", "", "free-form prompt used instead of the template")
	cmd.Flags().StringVar(&f.language, "language", "", "prompt language: en or zh")
	cmd.Flags().StringVar(&f.reference, "reference", "", "path to a reference image")
	cmd.Flags().StringVar(&f.mode, "mode", "single", "single, variations or angles")
	cmd.Flags().IntVar(&f.count, "count", 0, "variation count (default from config)")
}

// request builds a GenerationRequest. Styles and languages accept the same
// aliases as the HTTP API.
func (f *requestFlags) request(text string) (models.GenerationRequest, error) {
	req := models.GenerationRequest{
		Prompt:       text,
		Character:    f.character,
		Material:     f.material,
		ColorScheme:  f.colorScheme,
		CustomPrompt: f.custom,
		Language:     models.Language(f.language),
		Style:        models.Style(f.style),
	}
	if st, ok := prompt.ParseStyle(f.style); ok {
		req.Style = st
	}
	if lang, ok := prompt.ParseLanguage(f.language); ok {
		req.Language = lang
	}
	if f.reference != "" {
		data, err := os.ReadFile(f.reference)
		if err != nil {
			return req, fmt.Errorf("read reference: %w", err)
		}
		req.ReferenceImage = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

func (f *requestFlags) parseMode() (models.Mode, error) {
	if f.mode == "" || f.mode == string(models.ModeSingle) {
		return models.ModeSingle, nil
	}
	mode, ok := generation.ParseMode(f.mode)
	if !ok {
		return "", fmt.Errorf("unsupported mode %q", f.mode)
	}
	return mode, nil
}

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var (
		rf     requestFlags
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Generate toy images and write them to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			mode, err := rf.parseMode()
			if err != nil {
				return err
			}
			req, err := rf.request(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{requireProvider: true})
			if err != nil {
				return err
			}
			defer a.close()

			if a.budget.Enabled() {
				slots := 1
				if mode != models.ModeSingle {
					job, err := a.service.Compose(req)
					if err != nil {
						return err
					}
					slots = len(a.orchestrator.Plan(mode, job, rf.count))
				}
				if err := a.budget.Check(ctx, cliClient, mode, a.service.EstimateBatchCost(req, slots)); err != nil {
					return err
				}
			}

			var batch models.BatchResult
			if mode == models.ModeSingle {
				res := a.service.GenerateToyImage(ctx, req)
				batch = models.BatchResult{Mode: mode, Results: []models.GenerationResult{res}}
				batch.Summary.Total = 1
				if res.Success {
					batch.Summary.Successful = 1
					batch.Summary.TokensUsed = res.TokensUsed
				} else {
					batch.Summary.Failed = 1
				}
			} else {
				batch, err = a.orchestrator.Run(ctx, mode, req, rf.count)
				if err != nil {
					return err
				}
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			requestID := uuid.NewString()
			for i, res := range batch.Results {
				if !res.Success {
					fmt.Printf("[%d] failed (%s): %s\n", i+1, res.FailureKind, res.Error)
					continue
				}
				path := filepath.Join(outDir, res.Image.ID+extensionFor(res.Image.MIMEType))
				if err := os.WriteFile(path, res.Image.Data, 0o644); err != nil {
					return err
				}
				fmt.Printf("[%d] %s (%d tokens)\n", i+1, path, res.TokensUsed)
			}
			a.record(context.WithoutCancel(ctx), requestID, mode, req, batch)

			fmt.Printf("\n%d/%d succeeded, %d tokens charged\n",
				batch.Summary.Successful, batch.Summary.Total, batch.Summary.TokensUsed)
			if !batch.Succeeded() {
				return fmt.Errorf("all generation attempts failed")
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

// record writes the batch to the ledger and history. Failures are logged.
func (a *app) record(ctx context.Context, requestID string, mode models.Mode, req models.GenerationRequest, b models.BatchResult) {
	err := a.tracker.Record(ctx, models.UsageRecord{
		ClientID:  cliClient,
		RequestID: requestID,
		Mode:      mode,
		Model:     a.service.Model(),
		Requested: b.Summary.Total,
		Images:    b.Summary.Successful,
		Tokens:    b.Summary.TokensUsed,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		a.logger.Warn("record usage", "err", err)
	}

	if a.history == nil {
		return
	}
	hash, prefix := history.HashClient(cliClient)
	for i, res := range b.Results {
		e := models.HistoryEntry{
			RequestID:    requestID,
			ClientHash:   hash,
			ClientPrefix: prefix,
			Mode:         mode,
			Slot:         i,
			Prompt:       req.Prompt,
			Style:        req.Style,
			Language:     req.Language,
			Success:      res.Success,
			Error:        res.Error,
			TokensUsed:   res.TokensUsed,
			CreatedAt:    time.Now().UTC(),
		}
		if res.Image != nil {
			e.ImageID = res.Image.ID
			e.Prompt = res.Image.Prompt
			e.MIMEType = res.Image.MIMEType
			e.Image = res.Image.Data
		}
		if err := a.history.Append(ctx, e); err != nil {
			a.logger.Warn("record history", "err", err)
		}
	}
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func newPromptCmd(flags *rootFlags) *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "prompt PROMPT",
		Short: "Print the provider prompts a request would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			mode, err := rf.parseMode()
			if err != nil {
				return err
			}
			req, err := rf.request(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			job, err := a.service.Compose(req)
			if err != nil {
				return err
			}
			jobs := []generation.Job{job}
			if mode != models.ModeSingle {
				jobs = a.orchestrator.Plan(mode, job, rf.count)
			}
			for i, j := range jobs {
				fmt.Printf("[%d] %s\n\n", i+1, j.Prompt)
			}
			return nil
		},
	}

	rf.register(cmd)
	return cmd
}

func newEstimateCmd(flags *rootFlags) *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "estimate PROMPT",
		Short: "Estimate the token cost of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			mode, err := rf.parseMode()
			if err != nil {
				return err
			}
			req, err := rf.request(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			per := a.service.EstimateTokenCost(req)
			slots := 1
			switch mode {
			case models.ModeAngles:
				slots = prompt.AngleCount()
			case models.ModeVariations:
				slots = a.orchestrator.ClampCount(rf.count)
			}
			fmt.Printf("Mode:             %s\n", mode)
			fmt.Printf("Per image:        %d\n", per)
			fmt.Printf("Slots:            %d\n", slots)
			fmt.Printf("Estimated total:  %d\n", a.service.EstimateBatchCost(req, slots))
			return nil
		},
	}

	rf.register(cmd)
	return cmd
}
