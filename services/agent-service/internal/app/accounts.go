package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const loginTimeout = 10 * time.Minute

var loginCmd = &cobra.Command{
	Use:       "login [microsoft|google]",
	Short:     "Sign in a new account",
	Long:      "Runs the device-code flow for Microsoft or the browser consent flow for Google and stores the credential",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(models.ProviderMicrosoft), string(models.ProviderGoogle)},
	RunE: func(cmd *cobra.Command, args []string) error {
		vendor := models.ProviderType(strings.ToLower(args[0]))
		if !vendor.Valid() {
			return fmt.Errorf("unknown provider %q", args[0])
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		ctx, cancelTimeout := context.WithTimeout(ctx, loginTimeout)
		defer cancelTimeout()

		rt, err := build(ctx, func(code, uri string) {
			fmt.Printf("To sign in, open %s and enter the code %s\n", uri, code)
		})
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.agent.Login(ctx, vendor)
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
		if res.Pending {
			res, err = awaitRedirect(ctx, rt, res)
			if err != nil {
				return err
			}
		}
		if !res.Success {
			return fmt.Errorf("sign-in failed: %s", res.Error)
		}
		fmt.Printf("✓ Signed in %s (%s)\n", res.Account.Email, res.Account.ID)
		return nil
	},
}

// awaitRedirect serves the OAuth redirect URL until the consent comes back.
func awaitRedirect(ctx context.Context, rt *runtime, pending provider.AuthResult) (provider.AuthResult, error) {
	u, err := url.Parse(rt.cfg.Google.RedirectURL)
	if err != nil || u.Host == "" {
		return provider.AuthResult{}, fmt.Errorf("google.redirect_url %q is not an absolute URL", rt.cfg.Google.RedirectURL)
	}

	type outcome struct {
		res provider.AuthResult
		err error
	}
	done := make(chan outcome, 1)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(u.Path, func(c *gin.Context) {
		if e := c.Query("error"); e != "" {
			c.String(http.StatusBadRequest, "Sign-in was not completed: %s", e)
			select {
			case done <- outcome{err: fmt.Errorf("consent denied: %s", e)}:
			default:
			}
			return
		}
		res, err := rt.agent.HandleAuthCode(c.Request.Context(), c.Query("code"), c.Query("state"))
		if err != nil {
			c.String(http.StatusBadRequest, "Sign-in failed: %v", err)
		} else {
			c.String(http.StatusOK, "Signed in as %s. You can close this window.", res.Account.Email)
		}
		select {
		case done <- outcome{res: res, err: err}:
		default:
		}
	})

	srv := &http.Server{Addr: u.Host, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case done <- outcome{err: fmt.Errorf("callback listener: %w", err)}:
			default:
			}
		}
	}()
	defer srv.Close()

	fmt.Printf("Open this URL to grant access:\n\n  %s\n\nWaiting for the redirect to %s ...\n", pending.AuthURL, rt.cfg.Google.RedirectURL)
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return provider.AuthResult{}, fmt.Errorf("sign-in not completed: %w", ctx.Err())
	}
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List signed-in accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := build(ctx, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		if _, err := rt.agent.Restore(ctx); err != nil {
			return err
		}
		accounts := rt.agent.Manager().Accounts()
		if len(accounts) == 0 {
			fmt.Println("No signed-in accounts")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tEMAIL\tNAME")
		for _, a := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.ProviderType, a.Email, a.DisplayName)
		}
		return w.Flush()
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout [account-id]",
	Short: "Sign out an account and delete its credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		rt, err := build(ctx, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		if _, err := rt.agent.Restore(ctx); err != nil {
			return err
		}
		if err := rt.agent.Logout(ctx, args[0]); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Printf("✓ Signed out %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, accountsCmd, logoutCmd)
}
