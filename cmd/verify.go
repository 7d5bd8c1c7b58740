package cmd

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/verify"
	"github.com/spf13/cobra"
)

var verifyThreshold float64

var verifyCmd = &cobra.Command{
	Use:   "verify [image_path]",
	Short: "Run a single verification against the camera or an image file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("threshold") {
			if verifyThreshold <= 0 {
				err := fmt.Errorf("must be > 0, got %f", verifyThreshold)
				utils.ShowError("Invalid match threshold", err, nil)
				return err
			}
			Cfg.Verify.Threshold = verifyThreshold
		}
		image := ""
		if len(args) == 1 {
			image = args[0]
		}
		return runVerify(cmd.Context(), image)
	},
}

func init() {
	verifyCmd.Flags().Float64VarP(&verifyThreshold, "threshold", "t", 0, "Match threshold on Euclidean distance (default: verify.threshold)")
	rootCmd.AddCommand(verifyCmd)
}

// fileCapturer serves a fixed image instead of a camera frame.
type fileCapturer string

func (f fileCapturer) Capture(context.Context) ([]byte, error) {
	return os.ReadFile(string(f))
}

func runVerify(ctx context.Context, imagePath string) error {
	var source verify.Capturer = newCamera(Cfg)
	if imagePath != "" {
		if _, err := os.Stat(imagePath); os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		source = fileCapturer(imagePath)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	engine := newEngine(ctx, Cfg, Log)
	defer engine.Close()

	refs, err := loadReferences(ctx, Cfg, engine, Log)
	if err != nil {
		utils.ShowError("Failed to load reference embeddings", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	res := verify.NewEngine(source, engine, refs, Cfg.Verify.Threshold, Log).Verify(ctx)
	fmt.Println(formatResult(res, Cfg.Verify.Threshold))

	if res.Outcome == verify.OutcomeFailure {
		utils.ShowError("Verification failed", res.Err, nil)
		return res.Err
	}
	if !res.Matched() {
		return fmt.Errorf("owner not verified (%s)", res.Outcome)
	}
	return nil
}

// formatResult renders a verdict for the terminal.
func formatResult(res verify.Result, threshold float64) string {
	distance := "n/a"
	if !math.IsNaN(res.MinDistance) {
		distance = fmt.Sprintf("%.4f", res.MinDistance)
	}
	switch res.Outcome {
	case verify.OutcomeMatch:
		return fmt.Sprintf("✅ Owner verified (distance %s < %.2f)", distance, threshold)
	case verify.OutcomeNoMatch:
		return fmt.Sprintf("❌ Not the owner (distance %s >= %.2f)", distance, threshold)
	case verify.OutcomeNoFace:
		return "❌ No face detected."
	case verify.OutcomeNoReference:
		return "❌ No reference embeddings enrolled."
	default:
		return fmt.Sprintf("🚨 %s", res.Outcome)
	}
}
