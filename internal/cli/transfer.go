package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/status"
)

// Backup starts an immediate backup to one provider. Progress is
// asynchronous; watch it with 'status'.
func (a *App) Backup(ctx context.Context) error {
	callsign, err := getSimpleText(a.reader, "Back up to which provider?", os.Stdout)
	if err != nil {
		return err
	}
	snapshotID, err := a.client.StartBackup(ctx, callsign)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("Backup %s to %s started, follow it with 'status'\n", snapshotID, callsign)
	return nil
}

// Restore starts pulling a snapshot back from a provider. An empty
// snapshot id picks the last successful backup recorded for that
// provider. Restored files overwrite local ones.
func (a *App) Restore(ctx context.Context) error {
	callsign, err := getSimpleText(a.reader, "Restore from which provider?", os.Stdout)
	if err != nil {
		return err
	}
	snapshotID, err := getSimpleText(a.reader, "Snapshot id YYYY-MM-DD (Enter for the latest)", os.Stdout)
	if err != nil {
		return err
	}
	if snapshotID == "" {
		rel, ok := a.client.Provider(callsign)
		if !ok || rel.LastSuccessfulBackup.IsZero() {
			fmt.Println("No recorded backup for that provider; type the snapshot id.")
			return nil
		}
		snapshotID = rel.LastSuccessfulBackup.UTC().Format(common.SnapshotIDLayout)
	}

	if err := a.client.StartRestore(ctx, callsign, snapshotID); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("Restore of %s from %s started, follow it with 'status'\n", snapshotID, callsign)
	return nil
}

// Status prints the latest backup, restore and discovery state.
func (a *App) Status(_ context.Context) error {
	if t, ok := a.client.BackupStatus(); ok {
		printTransfer("backup", t)
	} else {
		fmt.Println("backup    idle")
	}
	if t, ok := a.client.RestoreStatus(); ok {
		printTransfer("restore", t)
	} else {
		fmt.Println("restore   idle")
	}
	if d, ok := a.client.LatestDiscovery(); ok {
		fmt.Printf("discovery %-12s queried %d/%d, responded %d, found %d\n",
			d.State, d.DevicesQueried, d.DevicesToQuery, d.DevicesResponded, len(d.ProvidersFound))
	} else {
		fmt.Println("discovery idle")
	}
	return nil
}

func printTransfer(name string, t status.Transfer) {
	line := fmt.Sprintf("%-9s %-12s %s %s %d%% (%d/%d files, %s/%s)",
		name, t.State, t.SnapshotID, t.PeerCallsign, t.ProgressPercent,
		t.FilesTransferred, t.FilesTotal,
		formatBytes(t.BytesTransferred), formatBytes(t.BytesTotal))
	if t.Error != "" {
		line += " error: " + t.Error
	}
	fmt.Println(line)
}
