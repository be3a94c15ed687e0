package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

var (
	flagCreateTitle        string
	flagCreateHostName     string
	flagCreateNoWaiting    bool
	flagCreateNoScreen     bool
	flagCreateHostOnlyScrn bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its identifiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		waiting := !flagCreateNoWaiting
		screen := !flagCreateNoScreen
		reqBody, err := json.Marshal(api.CreateRoomRequest{
			Title:               flagCreateTitle,
			HostName:            flagCreateHostName,
			WaitingRoomEnabled:  &waiting,
			ScreenShareEnabled:  &screen,
			ScreenShareHostOnly: &flagCreateHostOnlyScrn,
		})
		if err != nil {
			return err
		}

		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(flagRelayURL + "/api/rooms")
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.SetBody(reqBody)

		client := &fasthttp.Client{}
		if err := client.DoTimeout(req, resp, 10*time.Second); err != nil {
			return fmt.Errorf("create request failed: %w", err)
		}
		if resp.StatusCode() != fasthttp.StatusOK {
			return fmt.Errorf("relay returned status %d", resp.StatusCode())
		}

		var created api.CreateRoomResponse
		if err := json.Unmarshal(resp.Body(), &created); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Printf("room:     %s\n", created.Room.ID)
		fmt.Printf("host:     %s\n", created.HostID)
		fmt.Printf("host key: %s\n", created.HostKey)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&flagCreateTitle, "title", "", "room title")
	createCmd.Flags().StringVar(&flagCreateHostName, "name", "", "host display name")
	createCmd.Flags().BoolVar(&flagCreateNoWaiting, "no-waiting-room", false, "admit everyone without host approval")
	createCmd.Flags().BoolVar(&flagCreateNoScreen, "no-screen-share", false, "disable screen sharing")
	createCmd.Flags().BoolVar(&flagCreateHostOnlyScrn, "host-only-screen", false, "only the host may share a screen")
	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(createCmd)
}
