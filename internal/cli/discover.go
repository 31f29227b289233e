package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/peervault/peervault/internal/status"
)

// Discover broadcasts a discovery challenge for this node's own backups
// and waits out the listening window, then prints who holds them. Run it
// after reinstalling on fresh hardware to find where old data lives.
func (a *App) Discover(ctx context.Context) error {
	seconds, err := getInt(a.reader, "Listening window in seconds (default 30)", 30, os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	if seconds < 1 {
		seconds = 1
	}

	id, err := a.client.StartDiscovery(ctx, time.Duration(seconds)*time.Second)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("Listening for %ds...\n", seconds)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d, ok := a.client.DiscoveryStatus(id)
			if !ok {
				continue
			}
			if d.State != status.StateInProgress {
				printDiscovery(d)
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printDiscovery(d status.Discovery) {
	fmt.Printf("Queried %d devices, %d responded, %d holding backups\n",
		d.DevicesQueried, d.DevicesResponded, len(d.ProvidersFound))
	for _, p := range d.ProvidersFound {
		fmt.Printf("  %-10s %d snapshots, latest %s, quota %s\n",
			p.Callsign, p.SnapshotCount, p.LatestSnapshotID, formatBytes(p.MaxStorageBytes))
	}
}
