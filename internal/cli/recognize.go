package cli

import (
	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/capture"
	"github.com/your-org/facegate/internal/faceauth"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize [photo]",
	Short: "Identify the person in a photo or in a camera frame",
	Long: `Run recognition against the enrolled team members, either on a photo
file or on one frame grabbed from a camera with ffmpeg.

The camera is --camera, or capture.source from the config when --camera
is given without a value. Sources may be RTSP or HTTP stream URLs or local
capture devices (/dev/video0 on Linux, a device index on macOS).

Example:
  facectl recognize ./query.jpg
  facectl recognize --camera rtsp://door-cam.local/stream1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().String("camera", "", "Capture one frame from this camera source")
	recognizeCmd.Flags().Lookup("camera").NoOptDefVal = "config"
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	camera := mustGetString(cmd, "camera")
	if (camera == "") == (len(args) == 0) {
		return errUsage(cmd, "give either a photo or --camera")
	}

	fa, cfg, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer fa.Close()

	var rec faceauth.Recognition
	if camera != "" {
		capCfg := cfg.Capture
		if camera != "config" {
			capCfg.Source = camera
		}
		if capCfg.Source == "" {
			return errUsage(cmd, "no camera source: pass --camera <source> or set capture.source")
		}
		rec = fa.Manager.RecognizeFromCamera(ctx, capture.NewFFmpegCamera(capCfg))
	} else {
		img, err := faceauth.ImageFromFile(args[0])
		if err != nil {
			return err
		}
		rec = fa.Manager.Recognize(ctx, img)
	}

	if mustGetBool(cmd, "json") {
		if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
		if !rec.Success {
			return errFailed
		}
		return nil
	}
	return printRecognition(cmd.OutOrStdout(), rec)
}
