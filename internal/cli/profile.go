package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitoshi/kindred/internal/client/api"
)

func (a *app) newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "View and edit your profile",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.requireAuth()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.newProfileShowCommand())
	cmd.AddCommand(a.newProfileSetCommand())
	cmd.AddCommand(a.newProfileAddImageCommand())
	cmd.AddCommand(a.newProfileUploadCommand())
	cmd.AddCommand(a.newProfileRemoveImageCommand())
	cmd.AddCommand(a.newProfileImageURLCommand())
	cmd.AddCommand(a.newProfileFinalizeCommand())
	cmd.AddCommand(a.newProfileDeleteCommand())
	return cmd
}

func (a *app) newProfileShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.rt.User.FetchProfile(cmd.Context()); err != nil {
				return err
			}
			if err := a.rt.User.FetchPrompts(cmd.Context()); err != nil {
				return err
			}
			v := a.rt.User.View()
			out := struct {
				Details  api.ProfileDetails `json:"details"`
				Images   []api.UserImage    `json:"images"`
				Prompts  []api.UserPrompt   `json:"prompts"`
				Complete bool               `json:"complete"`
			}{v.Details, v.Images, v.Prompts, v.IsProfileComplete}

			return a.print(out, func(w *tabPrinter) {
				d := v.Details
				w.row("Name", deref(d.Name))
				w.row("Bio", deref(d.Bio))
				w.row("Birthdate", deref(d.Birthdate))
				w.row("Gender", deref(d.Gender))
				w.row("Location", deref(d.Location))
				w.row("Job", deref(d.Job))
				if d.Height != nil {
					w.row("Height", strconv.Itoa(*d.Height))
				}
				w.row("Images", fmt.Sprintf("%d/%d", len(v.Images), a.requiredImages()))
				for _, img := range v.Images {
					w.row(fmt.Sprintf("  #%d", img.Order), img.ID, img.URL)
				}
				w.row("Prompts", strconv.Itoa(len(v.Prompts)))
				for _, p := range v.Prompts {
					w.row(fmt.Sprintf("  #%d", p.Order), p.Question, p.Answer)
				}
			})
		},
	}
}

func (a *app) requiredImages() int {
	if a.rt.Config != nil {
		return a.rt.Config.RequiredImages
	}
	return 6
}

// profileFields はprofile setのフラグとProfileDetailsの項目の対応。
var profileFields = []struct {
	flag  string
	usage string
	set   func(*api.ProfileDetails, *string)
}{
	{"name", "Display name", func(d *api.ProfileDetails, v *string) { d.Name = v }},
	{"bio", "Short bio", func(d *api.ProfileDetails, v *string) { d.Bio = v }},
	{"birthdate", "Birthdate (YYYY-MM-DD)", func(d *api.ProfileDetails, v *string) { d.Birthdate = v }},
	{"pronouns", "Pronouns", func(d *api.ProfileDetails, v *string) { d.Pronouns = v }},
	{"gender", "Gender", func(d *api.ProfileDetails, v *string) { d.Gender = v }},
	{"sexuality", "Sexuality", func(d *api.ProfileDetails, v *string) { d.Sexuality = v }},
	{"location", "Location", func(d *api.ProfileDetails, v *string) { d.Location = v }},
	{"job", "Job title", func(d *api.ProfileDetails, v *string) { d.Job = v }},
	{"company", "Company", func(d *api.ProfileDetails, v *string) { d.Company = v }},
	{"school", "School", func(d *api.ProfileDetails, v *string) { d.School = v }},
	{"ethnicity", "Ethnicity", func(d *api.ProfileDetails, v *string) { d.Ethnicity = v }},
	{"politics", "Politics", func(d *api.ProfileDetails, v *string) { d.Politics = v }},
	{"religion", "Religion", func(d *api.ProfileDetails, v *string) { d.Religion = v }},
	{"relationship-type", "Relationship type", func(d *api.ProfileDetails, v *string) { d.RelationshipType = v }},
	{"dating-intention", "Dating intention", func(d *api.ProfileDetails, v *string) { d.DatingIntention = v }},
	{"drinks", "Drinks", func(d *api.ProfileDetails, v *string) { d.Drinks = v }},
	{"smokes", "Smokes", func(d *api.ProfileDetails, v *string) { d.Smokes = v }},
}

func (a *app) newProfileSetCommand() *cobra.Command {
	values := make([]string, len(profileFields))
	var height int

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile details (only the given flags are changed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch api.ProfileDetails
			changed := 0
			for i, f := range profileFields {
				if cmd.Flags().Changed(f.flag) {
					v := values[i]
					f.set(&patch, &v)
					changed++
				}
			}
			if cmd.Flags().Changed("height") {
				patch.Height = &height
				changed++
			}
			if changed == 0 {
				return errors.New("no fields given; see `kindredctl profile set --help`")
			}

			if err := a.rt.User.UpdateProfile(cmd.Context(), patch); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %d field(s).\n", changed)
			return nil
		},
	}

	for i, f := range profileFields {
		cmd.Flags().StringVar(&values[i], f.flag, "", f.usage)
	}
	cmd.Flags().IntVar(&height, "height", 0, "Height in centimetres")
	return cmd
}

func (a *app) newProfileAddImageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-image <url>",
		Short: "Import an image from a public URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.rt.API.UploadProfileImage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printImage(res)
		},
	}
}

func (a *app) newProfileUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
			if !strings.HasPrefix(contentType, "image/") {
				return fmt.Errorf("%s does not look like an image", path)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open image: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat image: %w", err)
			}

			res, err := a.rt.API.UploadImage(cmd.Context(), path, contentType, f, info.Size())
			if err != nil {
				return err
			}
			return a.printImage(res)
		},
	}
}

func (a *app) printImage(res *api.ImageResult) error {
	return a.print(res, func(w *tabPrinter) {
		if res.Image == nil {
			w.row("Status", res.Status, res.Message)
			return
		}
		w.row("Image", res.Image.ID)
		w.row("Key", res.Image.Key)
		w.row("Order", strconv.Itoa(res.Image.Order))
	})
}

func (a *app) newProfileRemoveImageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-image <image-id>",
		Short: "Delete a profile image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.rt.API.DeleteImage(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Image deleted.")
			return nil
		},
	}
}

func (a *app) newProfileImageURLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "image-url <key>",
		Short: "Print a temporary download URL for an uploaded object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.rt.API.GetDownloadURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, u)
			return nil
		},
	}
}

func (a *app) newProfileFinalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Mark the profile as complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.rt.API.FinalizeProfile(cmd.Context())
			var apiErr *api.Error
			if errors.As(err, &apiErr) && len(apiErr.PendingActions) > 0 {
				fmt.Fprintln(a.out, apiErr.Message)
				for _, action := range apiErr.PendingActions {
					fmt.Fprintf(a.out, "  - %s\n", action)
				}
				return errors.New("profile is incomplete")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, resp.Message)
			return nil
		},
	}
}

func (a *app) newProfileDeleteCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete your account and all profile data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			if _, err := a.rt.API.DeleteAccount(cmd.Context()); err != nil {
				return err
			}
			if err := a.rt.Session.Logout(cmd.Context()); err != nil {
				a.rt.Logger.Warn("sign-out after account deletion failed", slog.String("error", err.Error()))
			}
			a.rt.User.Clear()
			fmt.Fprintln(a.out, "Account deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm account deletion")
	return cmd
}

func (a *app) newPromptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage profile prompts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.requireAuth()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listPrompts(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listPrompts(cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <question> <answer>",
		Short: "Add a prompt answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.rt.API.CreatePrompt(cmd.Context(), args[0], args[1], a.minAnswerLength())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Prompt #%d saved.\n", res.Prompt.Order)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update <order> <question> <answer>",
		Short: "Replace the prompt at a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseOrder(args[0])
			if err != nil {
				return err
			}
			if _, err := a.rt.API.UpdatePrompt(cmd.Context(), order, args[1], args[2], a.minAnswerLength()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Prompt #%d updated.\n", order)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <order>",
		Short: "Delete the prompt at a position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseOrder(args[0])
			if err != nil {
				return err
			}
			if _, err := a.rt.API.DeletePrompt(cmd.Context(), order); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Prompt #%d deleted.\n", order)
			return nil
		},
	})
	return cmd
}

func (a *app) listPrompts(cmd *cobra.Command) error {
	if err := a.rt.User.FetchPrompts(cmd.Context()); err != nil {
		return err
	}
	prompts := a.rt.User.View().Prompts
	return a.print(prompts, func(w *tabPrinter) {
		w.row("ORDER", "QUESTION", "ANSWER")
		for _, p := range prompts {
			w.row(strconv.Itoa(p.Order), p.Question, p.Answer)
		}
	})
}

func (a *app) minAnswerLength() int {
	if a.rt.Config != nil {
		return a.rt.Config.MinAnswerLength
	}
	return 0
}

func parseOrder(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid prompt order %q", s)
	}
	return n, nil
}

func (a *app) newPrefsCommand() *cobra.Command {
	var (
		ageMin, ageMax, distance     int
		genders, ethnicities, faiths []string
	)

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or update match preferences",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			return a.requireAuth()
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.rt.User.FetchPreferences(cmd.Context()); err != nil {
				return err
			}
			return a.printPrefs()
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Update preferences (only the given flags are changed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch api.Preferences
			flags := cmd.Flags()
			if flags.Changed("age-min") || flags.Changed("age-max") {
				if !flags.Changed("age-min") || !flags.Changed("age-max") {
					return errors.New("--age-min and --age-max must be given together")
				}
				patch.AgeRange = &api.AgeRange{Min: ageMin, Max: ageMax}
			}
			if flags.Changed("distance") {
				patch.DistanceMax = &distance
			}
			if flags.Changed("gender") {
				patch.GenderPreference = genders
			}
			if flags.Changed("ethnicity") {
				patch.EthnicityPreference = ethnicities
			}
			if flags.Changed("religion") {
				patch.ReligionPreference = faiths
			}

			if err := a.rt.User.UpdatePreferences(cmd.Context(), patch); err != nil {
				return err
			}
			return a.printPrefs()
		},
	}
	set.Flags().IntVar(&ageMin, "age-min", 0, "Minimum age")
	set.Flags().IntVar(&ageMax, "age-max", 0, "Maximum age")
	set.Flags().IntVar(&distance, "distance", 0, "Maximum distance in km")
	set.Flags().StringSliceVar(&genders, "gender", nil, "Preferred genders")
	set.Flags().StringSliceVar(&ethnicities, "ethnicity", nil, "Preferred ethnicities")
	set.Flags().StringSliceVar(&faiths, "religion", nil, "Preferred religions")
	cmd.AddCommand(set)
	return cmd
}

func (a *app) printPrefs() error {
	p := a.rt.User.View().Preferences
	if p == nil {
		p = &api.Preferences{}
	}
	return a.print(p, func(w *tabPrinter) {
		if p.AgeRange != nil {
			w.row("Age", fmt.Sprintf("%d-%d", p.AgeRange.Min, p.AgeRange.Max))
		}
		if p.DistanceMax != nil {
			w.row("Distance", fmt.Sprintf("%d km", *p.DistanceMax))
		}
		w.row("Gender", strings.Join(p.GenderPreference, ", "))
		w.row("Ethnicity", strings.Join(p.EthnicityPreference, ", "))
		w.row("Religion", strings.Join(p.ReligionPreference, ", "))
	})
}
