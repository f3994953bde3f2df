// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"charted-server/internal/handler"
)

const version = "1.0.0"

var (
	apiURL      string
	output      string
	bearerToken string
	timeout     time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chartedctl",
		Short:         "charted-server CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("CHARTEDCTL_API_URL")
			}
			if bearerToken == "" {
				bearerToken = os.Getenv("CHARTEDCTL_TOKEN")
			}
			apiURL = strings.TrimRight(apiURL, "/")
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set CHARTEDCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "Bearer token (or set CHARTEDCTL_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(registryTokenCmd())
	rootCmd.AddCommand(registryAccessCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chartedctl version %s\n", version)
		},
	}
}

// call はAPIを呼び出し、期待したステータスでなければエラーを返す。
func call(method, path, authorization string, body any, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set CHARTEDCTL_API_URL)")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func requireToken() (string, error) {
	if bearerToken == "" {
		return "", fmt.Errorf("--token is required (or set CHARTEDCTL_TOKEN)")
	}
	return "Bearer " + bearerToken, nil
}

func printTokens(cmd *cobra.Command, body []byte) error {
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}
	var result handler.SessionTokensResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:       %s\n", result.SessionID)
	fmt.Fprintf(out, "Access token:  %s (expires %s)\n", result.AccessToken, result.ExpiresAt)
	fmt.Fprintf(out, "Refresh token: %s (expires %s)\n", result.RefreshToken, result.RefreshExpiresAt)
	return nil
}

// loginCmd はログインしてセッションを発行するコマンド。
func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CHARTEDCTL_PASSWORD")
			}
			body, err := call(http.MethodPost, "/v1/users/login", "",
				handler.LoginRequest{Username: username, Password: password}, http.StatusCreated)
			if err != nil {
				return err
			}
			return printTokens(cmd, body)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set CHARTEDCTL_PASSWORD)")
	cmd.MarkFlagRequired("username")
	return cmd
}

// whoamiCmd は現在のセッションを表示するコマンド。
func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := requireToken()
			if err != nil {
				return err
			}
			body, err := call(http.MethodGet, "/v1/users/@me/sessions", auth, nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			var result handler.SessionResponse
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:    %d\n", result.UserID)
			fmt.Fprintf(out, "Session: %s (expires %s)\n", result.SessionID, result.ExpiresAt)
			fmt.Fprintf(out, "Scopes:  %s\n", strings.Join(result.Scopes, ", "))
			return nil
		},
	}
}

// refreshCmd はリフレッシュトークンでセッションを再発行するコマンド。
func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange a refresh token (--token) for a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := requireToken()
			if err != nil {
				return err
			}
			body, err := call(http.MethodPost, "/v1/users/@me/sessions/refresh", auth, nil, http.StatusCreated)
			if err != nil {
				return err
			}
			return printTokens(cmd, body)
		},
	}
}

// logoutCmd は現在のセッションを失効させるコマンド。
func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := requireToken()
			if err != nil {
				return err
			}
			if _, err := call(http.MethodDelete, "/v1/users/@me/sessions", auth, nil, http.StatusAccepted); err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			}
			return nil
		},
	}
}

// registryTokenCmd はBasic認証でレジストリトークンを取得するコマンド。
func registryTokenCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "registry-token",
		Short: "Obtain an OCI registry token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CHARTEDCTL_PASSWORD")
			}
			basic := "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
			body, err := call(http.MethodGet, "/v2/token", basic, nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			var result handler.RegistryTokenResponse
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set CHARTEDCTL_PASSWORD)")
	cmd.MarkFlagRequired("username")
	return cmd
}

// registryAccessCmd はレジストリトークンでリポジトリ操作が許可されるかを確認するコマンド。
func registryAccessCmd() *cobra.Command {
	var repositoryID int64
	var action string
	cmd := &cobra.Command{
		Use:   "registry-access",
		Short: "Check whether a registry token (--token) may act on a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := requireToken()
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/v1/repositories/%d/registry-access?action=%s", repositoryID, action)
			body, err := call(http.MethodGet, path, auth, nil, http.StatusOK)
			if err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s on repository %d: allowed\n", action, repositoryID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&repositoryID, "repository", 0, "Repository ID (required)")
	cmd.Flags().StringVar(&action, "action", "pull", "Action: pull, push, delete")
	cmd.MarkFlagRequired("repository")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil {
		if errResp.Message != "" {
			return fmt.Errorf("Error: %s", errResp.Message)
		}
		if len(errResp.Errors) > 0 && errResp.Errors[0].Message != "" {
			return fmt.Errorf("Error: %s", errResp.Errors[0].Message)
		}
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
