package main

import (
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nerrad567/catfeeder/internal/api"
)

func eventsCmd(client clientFunc) *cobra.Command {
	var channels []string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream feeding events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := client().base + "/api/v1/events"
			url = "ws" + strings.TrimPrefix(url, "http")

			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), url, nil)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", url, err)
			}
			defer conn.Close()
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-cmd.Context().Done():
					conn.Close()
				case <-done:
				}
			}()

			if len(channels) > 0 {
				sub := api.WSMessage{
					Type:    api.WSTypeSubscribe,
					Payload: api.WSSubscribePayload{Channels: channels},
				}
				if err := conn.WriteJSON(sub); err != nil {
					return fmt.Errorf("subscribing: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			for {
				var msg struct {
					Type      string              `json:"type"`
					EventType string              `json:"event_type"`
					Timestamp string              `json:"timestamp"`
					Payload   api.TransitionEvent `json:"payload"`
				}
				if err := conn.ReadJSON(&msg); err != nil {
					if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					return fmt.Errorf("reading events: %w", err)
				}
				if msg.Type != api.WSTypeEvent {
					continue
				}
				ev := msg.Payload
				line := fmt.Sprintf("%s %-26s job=%s status=%s", msg.Timestamp, msg.EventType, ev.JobID, ev.Status)
				if ev.Machine != "" {
					line += " machine=" + ev.Machine
				}
				if ev.Code != "" {
					line += fmt.Sprintf(" code=%s rounds_left=%d", ev.Code, ev.RoundsLeft)
				}
				fmt.Fprintln(out, line)
			}
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Only show these channels (job, machine)")
	return cmd
}
