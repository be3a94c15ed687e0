package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

var flagHostKey string

func hostPost(path string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(flagRelayURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("X-Host-Key", flagHostKey)

	client := &fasthttp.Client{}
	if err := client.DoTimeout(req, resp, 10*time.Second); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

var admitCmd = &cobra.Command{
	Use:   "admit <room-id> <participant-id>",
	Short: "Admit a waiting participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostPost(fmt.Sprintf("/api/rooms/%s/participants/%s/admit", args[0], args[1]))
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <room-id> <participant-id>",
	Short: "Deny a waiting participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostPost(fmt.Sprintf("/api/rooms/%s/participants/%s/deny", args[0], args[1]))
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <room-id> <participant-id>",
	Short: "Remove an admitted participant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostPost(fmt.Sprintf("/api/rooms/%s/participants/%s/remove", args[0], args[1]))
	},
}

var endCmd = &cobra.Command{
	Use:   "end <room-id>",
	Short: "End the meeting for everyone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostPost(fmt.Sprintf("/api/rooms/%s/end", args[0]))
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock <room-id>",
	Short: "Lock the room against new joins",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostPost(fmt.Sprintf("/api/rooms/%s/lock", args[0]))
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <room-id>",
	Short: "Unlock the room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostPost(fmt.Sprintf("/api/rooms/%s/unlock", args[0]))
	},
}

func init() {
	for _, c := range []*cobra.Command{admitCmd, denyCmd, removeCmd, endCmd, lockCmd, unlockCmd} {
		c.Flags().StringVar(&flagHostKey, "key", "", "host key returned by create")
		_ = c.MarkFlagRequired("key")
		rootCmd.AddCommand(c)
	}
}
