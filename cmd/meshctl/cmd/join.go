package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/mesh"
	"github.com/spf13/cobra"
)

var (
	flagJoinName     string
	flagJoinPublicIP string
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and stay attached until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := mesh.Join(mesh.SessionConfig{
			RelayURL:    flagRelayURL,
			RoomID:      args[0],
			DisplayName: flagJoinName,
			PublicIP:    flagJoinPublicIP,
			OnRemoteStream: func(s mesh.RemoteStream) {
				fmt.Printf("stream from %s: %s (%s)\n", s.PeerID, s.StreamID, s.Kind)
			},
			OnPresence: printPresenceEvent,
		})
		if err != nil {
			return err
		}
		defer session.Leave()

		fmt.Printf("joined as %s (%s)\n", session.ParticipantID(), session.Role())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		return nil
	},
}

func printPresenceEvent(m api.ChannelMessage) {
	switch m.Event {
	case api.EventUserJoined:
		if m.Joined != nil {
			fmt.Printf("%s joined\n", m.Joined.DisplayName)
		}
	case api.EventUserLeft:
		if m.Left != nil {
			fmt.Printf("%s left\n", m.Left.ParticipantID)
		}
	case api.EventHandRaised:
		if m.Hand != nil {
			fmt.Printf("%s raised a hand\n", m.Hand.DisplayName)
		}
	case api.EventHandLowered:
		if m.Hand != nil {
			fmt.Printf("%s lowered a hand\n", m.Hand.DisplayName)
		}
	case api.EventChat:
		if m.Chat != nil {
			fmt.Printf("[%s] %s\n", m.Chat.DisplayName, m.Chat.Body)
		}
	case api.EventMeetingEnded:
		fmt.Println("the host ended the meeting")
	}
}

func init() {
	joinCmd.Flags().StringVar(&flagJoinName, "name", "", "display name")
	joinCmd.Flags().StringVar(&flagJoinPublicIP, "public-ip", "", "advertise this address in ICE candidates")
	_ = joinCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(joinCmd)
}
