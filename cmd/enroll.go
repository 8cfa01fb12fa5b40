package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/warden/internal/enroll"
	"github.com/andresmejia3/warden/internal/utils"
	"github.com/andresmejia3/warden/internal/vision"
)

var enrollOpts struct {
	Assets   string
	File     string
	Name     string
	NoDetect bool
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll known faces from reference images",
	Long: "Embeds every image in the assets folder and stores it under the file name " +
		"(alice.jpg becomes 'alice'). Names that are already enrolled are skipped.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateEnrollFlags(); err != nil {
			utils.Die("Invalid flags", err, nil)
		}
		runEnroll(cmd)
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollOpts.Assets, "assets", "a", "assets", "Folder of reference images (.jpg, .jpeg, .png)")
	enrollCmd.Flags().StringVarP(&enrollOpts.File, "file", "f", "", "Enroll a single image instead of a folder")
	enrollCmd.Flags().StringVarP(&enrollOpts.Name, "name", "n", "", "Name for --file (default: file name without extension)")
	enrollCmd.Flags().BoolVar(&enrollOpts.NoDetect, "no-detect", false, "Treat each image as an already-cropped face")
	rootCmd.AddCommand(enrollCmd)
}

func validateEnrollFlags() error {
	if enrollOpts.Name != "" && enrollOpts.File == "" {
		return errors.New("--name requires --file")
	}
	if enrollOpts.File == "" && enrollOpts.Assets == "" {
		return errors.New("either --assets or --file is required")
	}
	return nil
}

func runEnroll(cmd *cobra.Command) {
	ctx := cmd.Context()

	embedder, closer, err := openEmbedder(Cfg)
	if err != nil {
		utils.Die("Failed to load face embedder", err, nil)
	}
	defer closer.Close()

	e := &enroll.Enroller{
		Embedder: embedder,
		Store:    DB,
		Model:    embeddingModel(Cfg),
	}
	if !enrollOpts.NoDetect {
		det, err := vision.NewDetector(Cfg.DetectorModel, Cfg.DetectorScore)
		if err != nil {
			utils.Die("Failed to load face detector", err, nil)
		}
		defer det.Close()
		e.Detector = det
	}

	if enrollOpts.File != "" {
		name := enrollOpts.Name
		if name == "" {
			name = utils.NameFromPath(enrollOpts.File)
		}
		id, err := e.File(ctx, enrollOpts.File, name)
		if err != nil {
			utils.Die("Failed to enroll "+enrollOpts.File, err, nil)
		}
		fmt.Printf("✅ Enrolled '%s' as identity %d\n", name, id)
		return
	}

	files, err := utils.ListImageFiles(enrollOpts.Assets)
	if err != nil {
		utils.Die("Failed to read assets folder", err, nil)
	}
	if len(files) == 0 {
		fmt.Printf("No images found in %s.\n", enrollOpts.Assets)
		return
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("🧬 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	results, err := e.Dir(ctx, enrollOpts.Assets, func(enroll.Result) { bar.Add(1) })
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	enrolled, skipped, failed := summarize(results)
	for _, r := range results {
		switch {
		case r.Err == nil:
		case errors.Is(r.Err, enroll.ErrSkipped):
			fmt.Fprintf(os.Stderr, "⏭️  %s: already enrolled\n", r.Name)
		default:
			fmt.Fprintf(os.Stderr, "⚠️  %s: %v\n", r.Path, r.Err)
		}
	}
	if err != nil {
		utils.Die("Enrollment interrupted", err, nil)
	}
	fmt.Printf("✨ Enrollment complete: %d enrolled, %d skipped, %d failed.\n", enrolled, skipped, failed)
}

func summarize(results []enroll.Result) (enrolled, skipped, failed int) {
	for _, r := range results {
		switch {
		case r.Err == nil:
			enrolled++
		case errors.Is(r.Err, enroll.ErrSkipped):
			skipped++
		default:
			failed++
		}
	}
	return enrolled, skipped, failed
}
