package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/lumenhq/lumen-go/internal/plan"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and persist the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		email := strings.TrimSpace(loginEmail)
		if email == "" {
			fmt.Print("Email: ")
			if _, err := fmt.Scanln(&email); err != nil {
				return fmt.Errorf("read email: %w", err)
			}
		}

		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		if err := a.auth.Login(cmd.Context(), email, string(password)); err != nil {
			return err
		}

		if _, err := a.sync.FetchProfile(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logged in, but profile fetch failed: %v\n", err)
		}

		fmt.Printf("Logged in as %s\n", email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current user profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		profile, err := a.sync.FetchProfile(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s <%s>\n", profile.FullName(), profile.Email)
		if profile.StudioName != "" {
			fmt.Printf("Studio: %s\n", profile.StudioName)
		}
		if profile.Stats == nil {
			fmt.Println("Usage statistics unavailable")
		} else {
			fmt.Printf("Plan: %s\n", profile.Stats.PlanName)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage against plan limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.sync.FetchStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Plan: %s\n", stats.PlanName)
		if stats.PlanLimits == nil {
			fmt.Println("Plan limits unknown")
			fmt.Printf("Storage: %.2f GB used\n", stats.StorageUsedGB)
			return nil
		}
		limits := stats.PlanLimits
		fmt.Printf("Galleries: %d / %d\n", stats.GalleriesCount, limits.MaxGalleries)
		fmt.Printf("Photos:    %d / %d\n", stats.PhotosCount, limits.MaxPhotos)
		fmt.Printf("Clients:   %d / %d\n", stats.ClientsCount, limits.MaxClients)
		fmt.Printf("Storage:   %.2f / %.2f GB\n", stats.StorageUsedGB, float64(limits.MaxStorageBytes)/float64(1<<30))
		return nil
	},
}

var (
	checkFiles int
	checkBytes int64
)

var checkCmd = &cobra.Command{
	Use:   "check {gallery|client|upload}",
	Short: "Check whether an action is allowed under the current plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var action plan.Action
		var payload *plan.UploadPayload
		switch args[0] {
		case "gallery":
			action = plan.ActionCreateGallery
		case "client":
			action = plan.ActionCreateClient
		case "upload":
			action = plan.ActionUploadPhotos
			payload = uploadPayload(checkFiles, checkBytes)
		default:
			return fmt.Errorf("unknown action %q (want gallery, client, or upload)", args[0])
		}

		stats, err := a.sync.FetchStats(cmd.Context())
		if err != nil {
			return err
		}

		decision := plan.Evaluate(action, stats, payload)
		allowed := map[plan.Action]bool{
			plan.ActionCreateGallery: decision.CanCreateGallery,
			plan.ActionUploadPhotos:  decision.CanUploadPhotos,
			plan.ActionCreateClient:  decision.CanCreateClient,
		}[action]

		if allowed {
			fmt.Println("Allowed")
			return nil
		}
		fmt.Printf("Denied: %s\n", decision.Message)
		os.Exit(1)
		return nil
	},
}

// uploadPayload spreads total bytes across the declared file count so the
// evaluator sees the same totals the real batch would produce.
func uploadPayload(files int, totalBytes int64) *plan.UploadPayload {
	if files <= 0 {
		return nil
	}
	payload := &plan.UploadPayload{}
	per := totalBytes / int64(files)
	remainder := totalBytes - per*int64(files)
	for i := 0; i < files; i++ {
		size := per
		if i == 0 {
			size += remainder
		}
		payload.Files = append(payload.Files, plan.FileInfo{
			Name:      fmt.Sprintf("file-%d", i+1),
			SizeBytes: size,
		})
	}
	return payload
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (prompted when omitted)")
	checkCmd.Flags().IntVar(&checkFiles, "files", 0, "number of files in the proposed upload batch")
	checkCmd.Flags().Int64Var(&checkBytes, "bytes", 0, "total size of the proposed upload batch in bytes")
}
