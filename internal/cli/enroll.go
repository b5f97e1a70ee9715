package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/faceauth"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <member-id> <photo>",
	Short: "Register a team member from a photo",
	Long: `Register a team member with one reference photo. The photo must contain
a detectable face; when it contains several, the most confident one is used.

An already registered member id is rejected unless --update is given, which
replaces the name, role and every reference photo but keeps the original
registration time.

Example:
  facectl enroll alice ./photos/alice.jpg --name "Alice Smith" --role nurse`,
	Args: cobra.ExactArgs(2),
	RunE: runEnroll,
}

var addPhotoCmd = &cobra.Command{
	Use:   "add-photo <member-id> <photo> [photo...]",
	Short: "Add reference photos to a registered member",
	Long: `Add one or more reference photos to an enrolled member. More photos taken
under different lighting and angles make recognition more reliable.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAddPhoto,
}

var checkCmd = &cobra.Command{
	Use:   "check <photo>",
	Short: "Check whether a photo is usable for enrollment",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(enrollCmd, addPhotoCmd, checkCmd)
	enrollCmd.Flags().String("name", "", "Full name of the team member (required)")
	enrollCmd.Flags().String("role", "", "Role of the team member")
	enrollCmd.Flags().Bool("update", false, "Replace an existing registration")
	_ = enrollCmd.MarkFlagRequired("name")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fa, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer fa.Close()

	memberID, photo := args[0], args[1]
	name := mustGetString(cmd, "name")
	role := mustGetString(cmd, "role")

	if !mustGetBool(cmd, "update") {
		return printResult(cmd.OutOrStdout(), fa.Manager.RegisterTeamMember(ctx, memberID, name, role, photo))
	}

	img, err := faceauth.ImageFromFile(photo)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), fa.Manager.Register(ctx, faceauth.RegisterRequest{
		MemberID: memberID,
		FullName: name,
		Role:     role,
		Image:    img,
		Update:   true,
	}))
}

func runAddPhoto(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	memberID, photos := args[0], args[1:]

	fa, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer fa.Close()

	out := cmd.OutOrStdout()
	if len(photos) == 1 {
		return printResult(out, fa.Manager.AddPhotoFromFile(ctx, memberID, photos[0]))
	}

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Adding photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var failures []string
	added := 0
	for _, photo := range photos {
		res := fa.Manager.AddPhotoFromFile(ctx, memberID, photo)
		if res.Success {
			added++
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", filepath.Base(photo), res.Message))
			if res.Code == faceauth.CodeUnknownMember {
				_ = bar.Finish()
				return printResult(out, res)
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	fmt.Fprintf(out, "Added %d of %d photos for %s\n", added, len(photos), memberID)
	if len(failures) > 0 {
		fmt.Fprintf(out, "Skipped:\n  %s\n", strings.Join(failures, "\n  "))
		return errFailed
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fa, _, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer fa.Close()

	img, err := faceauth.ImageFromFile(args[0])
	if err != nil {
		return err
	}
	res := fa.Manager.CheckPhoto(ctx, img)
	out := cmd.OutOrStdout()
	if err := printResult(out, res.Result); err != nil {
		return err
	}
	for i, r := range res.Regions {
		fmt.Fprintf(out, "  face %d: box=(%.0f,%.0f)-(%.0f,%.0f) confidence=%.2f\n",
			i+1, r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3], r.Confidence)
	}
	if res.Faces > 1 {
		fmt.Fprintln(out, "  note: several faces found, enrollment uses the most confident one")
	}
	return nil
}
