package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/relationship"
)

// getSimpleText, getInt and getPassword are indirections used to
// facilitate testing. They point to interactive input helpers and can
// be swapped in tests.
var getSimpleText = GetSimpleText
var getInt = GetInt
var getPassword = GetPassword

// Invite prompts for a provider callsign and a backup interval and sends
// a backup invite. The call waits up to a minute for the provider's
// decision; with no answer the relationship stays pending and a later
// acceptance still lands.
func (a *App) Invite(ctx context.Context) error {
	callsign, err := getSimpleText(a.reader, "Provider callsign", os.Stdout)
	if err != nil {
		return err
	}
	days, err := getInt(a.reader, "Backup interval in days (default 7)", 7, os.Stdout)
	if err != nil {
		fmt.Println(err.Error())
		return err
	}

	rel, err := a.client.SendInvite(ctx, callsign, days)
	if errors.Is(err, common.ErrTimeout) {
		fmt.Println("No answer yet. The invite stays pending; an acceptance can still arrive later.")
		return nil
	}
	if err != nil {
		fmt.Println(err.Error())
		return err
	}

	switch rel.Status {
	case relationship.StatusActive:
		fmt.Printf("%s accepted: %s storage, %d snapshots\n",
			callsign, formatBytes(rel.MaxStorageBytes), rel.MaxSnapshots)
	case relationship.StatusDeclined:
		fmt.Printf("%s declined the invite\n", callsign)
	default:
		fmt.Printf("%s answered with status %s\n", callsign, rel.Status)
	}
	return nil
}
