package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Clients lists the peers whose backups this node stores, pending
// invites included.
func (a *App) Clients(_ context.Context) error {
	rels := a.provider.Clients()
	if len(rels) == 0 {
		fmt.Println("No clients.")
		return nil
	}
	for _, rel := range rels {
		fmt.Printf("%-10s %-10s using %s of %s, %d/%d snapshots, last backup %s\n",
			rel.ClientCallsign, rel.Status,
			formatBytes(rel.CurrentStorageBytes), formatBytes(rel.MaxStorageBytes),
			rel.SnapshotCount, rel.MaxSnapshots,
			formatTime(rel.LastBackupAt))
	}
	return nil
}

// Accept answers a pending invite positively. With no callsign typed it
// lists what is pending.
func (a *App) Accept(ctx context.Context) error {
	pending := a.provider.PendingInvites()
	if len(pending) == 0 {
		fmt.Println("No pending invites.")
		return nil
	}
	for _, rel := range pending {
		fmt.Printf("%s (pubkey %s)\n", rel.ClientCallsign, rel.ClientPublicKey)
	}
	callsign, err := getSimpleText(a.reader, "Accept which callsign?", os.Stdout)
	if err != nil {
		return err
	}
	if callsign == "" {
		return nil
	}
	if err := a.provider.AcceptInvite(ctx, callsign); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("%s accepted\n", callsign)
	return nil
}

// Decline answers a pending invite negatively.
func (a *App) Decline(ctx context.Context) error {
	callsign, err := getSimpleText(a.reader, "Decline which callsign?", os.Stdout)
	if err != nil {
		return err
	}
	if callsign == "" {
		return nil
	}
	if err := a.provider.DeclineInvite(ctx, callsign); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Printf("%s declined\n", callsign)
	return nil
}

// Settings shows the provider-role settings and optionally updates them.
func (a *App) Settings(_ context.Context) error {
	s := a.provider.Settings()
	fmt.Printf("Provider enabled:      %t\n", s.Enabled)
	fmt.Printf("Total storage:         %s\n", formatBytes(s.MaxTotalStorageBytes))
	fmt.Printf("Per-client storage:    %s\n", formatBytes(s.DefaultMaxClientStorageBytes))
	fmt.Printf("Per-client snapshots:  %d\n", s.DefaultMaxSnapshots)
	fmt.Printf("Auto-accept contacts:  %t\n", s.AutoAcceptFromContacts)

	answer, err := getSimpleText(a.reader, "Change settings? (y/N)", os.Stdout)
	if err != nil {
		return err
	}
	if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		return nil
	}

	enabled, err := getSimpleText(a.reader, "Accept new clients? (y/n)", os.Stdout)
	if err != nil {
		return err
	}
	if enabled != "" {
		s.Enabled = strings.EqualFold(enabled, "y") || strings.EqualFold(enabled, "yes")
	}
	auto, err := getSimpleText(a.reader, "Auto-accept invites from contacts? (y/n)", os.Stdout)
	if err != nil {
		return err
	}
	if auto != "" {
		s.AutoAcceptFromContacts = strings.EqualFold(auto, "y") || strings.EqualFold(auto, "yes")
	}
	snapshots, err := getInt(a.reader, "Snapshots kept per client (Enter keeps current)", s.DefaultMaxSnapshots, os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}
	s.DefaultMaxSnapshots = snapshots

	if err := a.provider.UpdateSettings(s); err != nil {
		fmt.Println(err.Error())
		return err
	}
	fmt.Println("Settings saved. Existing client quotas are unchanged.")
	return nil
}
