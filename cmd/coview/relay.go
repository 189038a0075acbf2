// ABOUTME: relay command serving rooms of participants
// ABOUTME: Advertises the relay with mDNS unless disabled
package main

import (
	"fmt"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/coview-go/internal/discovery"
	"github.com/Resonate-Protocol/coview-go/internal/transmit"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a room relay",
	Long: `Run the relay that participants connect to. Each participant's audio is
forwarded to everyone else in the same room.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadRelayOptions(v)
		if err != nil {
			return err
		}

		logs, err := setupLogging(v, true)
		if err != nil {
			return err
		}
		defer logs.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Printf("Starting relay: %s on port %d", opts.Name, opts.Port)
		log.Printf("Press Ctrl-C to stop")

		if opts.MDNS {
			disc := discovery.NewManager(discovery.Config{
				ServiceName: opts.Name,
				Port:        opts.Port,
				Path:        transmit.DefaultPath,
				Room:        opts.Room,
			})
			if err := disc.Advertise(); err != nil {
				log.Printf("Warning: mDNS advertisement failed: %v", err)
			}
			defer disc.Stop()
		}

		relay := transmit.NewRelay(opts.Name)
		if err := relay.ListenAndServe(ctx, fmt.Sprintf(":%d", opts.Port)); err != nil {
			return fmt.Errorf("relay error: %w", err)
		}
		log.Printf("Relay stopped")
		return nil
	},
}

func init() {
	f := relayCmd.Flags()
	f.Int("port", 8927, "WebSocket port")
	f.String("name", "", "Relay name (default: hostname-coview-relay)")
	f.String("room", "", "Advertise a single room (default: any room)")
	f.Bool("no-mdns", false, "Disable mDNS advertisement")
}
