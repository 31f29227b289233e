package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Providers lists every provider relationship this node holds, one line
// per provider.
func (a *App) Providers(_ context.Context) error {
	rels := a.client.Providers()
	if len(rels) == 0 {
		fmt.Println("No providers. Use 'invite' or 'discover' to find one.")
		return nil
	}
	for _, rel := range rels {
		fmt.Printf("%-10s %-10s quota %s/%d snapshots, every %dd, last backup %s, next %s\n",
			rel.ProviderCallsign, rel.Status,
			formatBytes(rel.MaxStorageBytes), rel.MaxSnapshots,
			rel.BackupIntervalDays,
			formatTime(rel.LastSuccessfulBackup), formatTime(rel.NextScheduledBackup))
	}
	return nil
}

// Remove drops a relationship: a provider we back up to, or a client we
// store backups for.
func (a *App) Remove(ctx context.Context) error {
	role, err := getSimpleText(a.reader, "Remove a (p)rovider or a (c)lient?", os.Stdout)
	if err != nil {
		return err
	}
	callsign, err := getSimpleText(a.reader, "Callsign", os.Stdout)
	if err != nil {
		return err
	}

	switch strings.ToLower(role) {
	case "p", "provider":
		if err := a.client.RemoveProvider(ctx, callsign); err != nil {
			fmt.Println(err.Error())
			return err
		}
		fmt.Printf("%s removed. Data already stored there stays retrievable with 'restore'.\n", callsign)
	case "c", "client":
		answer, err := getSimpleText(a.reader, "Erase stored backup data too? (y/N)", os.Stdout)
		if err != nil {
			return err
		}
		erase := strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
		if err := a.provider.RemoveClient(ctx, callsign, erase); err != nil {
			fmt.Println(err.Error())
			return err
		}
		fmt.Printf("%s removed\n", callsign)
	default:
		fmt.Println("Answer 'p' or 'c'.")
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
