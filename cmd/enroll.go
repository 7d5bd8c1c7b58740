package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/enroll"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/spf13/cobra"
)

var (
	enrollName   string
	enrollRecord string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Rebuild the owner's reference embeddings from the reference images",
	Long: `Encodes every image in system.image_dir and writes the embeddings cache.
With --record, first films the owner with the camera and saves each frame as a reference image.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		var record time.Duration
		if enrollRecord != "" {
			d, err := parsePositiveDuration(enrollRecord)
			if err != nil {
				utils.ShowError("Invalid record duration (use '10s', '1m')", err, nil)
				return err
			}
			record = d
		}
		if enrollName != "" {
			if err := config.SetOwner(cfgPath, enrollName); err != nil {
				utils.ShowError("Failed to save owner name", err, nil)
				return err
			}
			Cfg.Owner.Name = enrollName
			fmt.Fprintf(os.Stderr, "👤 Owner set to %s\n", enrollName)
		}
		return runEnroll(cmd.Context(), record)
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollName, "name", "n", "", "Owner name shown in the unlock prompt (saved to the config file)")
	enrollCmd.Flags().StringVarP(&enrollRecord, "record", "r", "", "Record reference images from the camera for this long first, e.g. '10s'")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, record time.Duration) error {
	if record > 0 {
		fmt.Fprintf(os.Stderr, `
📸 Visage will record a %s video to capture your facial features.
   Look at all 8 corners of your laptop (4 on the display, 4 on the keyboard),
   vary your distance to the camera, and make sure the lighting is good.

Press enter when you are ready...`, record)
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')

		n, err := newCamera(Cfg).Record(ctx, record, Cfg.System.ImageDir)
		if err != nil {
			utils.ShowError("Failed to record reference images", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🎞️  Recorded %d frames to %s\n", n, Cfg.System.ImageDir)
	}

	if n, ok := enroll.Ready(Cfg.System.ImageDir); !ok {
		fmt.Fprintf(os.Stderr, "⚠️  Only %d reference images in %s (more than %d recommended)\n", n, Cfg.System.ImageDir, enroll.MinReferenceImages)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	engine := newEngine(ctx, Cfg, Log)
	defer engine.Close()

	refs, err := enroll.Rebuild(ctx, Cfg.System.FeaturesFile, Cfg.System.ImageDir, engine, enroll.BuildOptions{
		Progress: os.Stderr,
		Log:      Log,
	})
	if err != nil {
		utils.ShowError("Enrollment failed", err, nil)
		return err
	}
	fmt.Printf("✅ Enrolled %d reference embeddings (dim %d) into %s\n", refs.Len(), refs.Dim(), Cfg.System.FeaturesFile)
	return nil
}
