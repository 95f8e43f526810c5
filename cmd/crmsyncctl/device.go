package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/crmsync/internal/config"
	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/profile"
	"github.com/matheus3301/crmsync/internal/store"
)

func cmdDevice(ctx context.Context, profileName string, args []string) {
	if len(args) == 0 {
		deviceUsage()
	}

	settings, err := config.LoadSettings(profile.SettingsPath(profileName))
	if err != nil {
		fatalf("load settings: %v", err)
	}
	path := settings.Device.Path
	if path == "" {
		path = profile.DeviceDBPath(profileName)
	}
	w, err := device.OpenWriter(path)
	if err != nil {
		fatalf("%v", err)
	}
	defer func() { _ = w.Close() }()

	switch args[0] {
	case "add-contact":
		if len(args) < 2 {
			deviceUsage()
		}
		id, err := w.AddContact(ctx, args[1], argAt(args, 2), argAt(args, 3))
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Added contact %s (id %s)\n", args[1], id)
	case "delete-contact":
		if len(args) < 2 {
			deviceUsage()
		}
		n, err := w.DeleteContactsByName(ctx, args[1])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Deleted %d contact(s) named %s\n", n, args[1])
	case "add-call":
		if len(args) < 3 {
			deviceUsage()
		}
		call := store.CallLog{
			PhoneNumber: args[1],
			Type:        parseCallType(args[2]),
			Timestamp:   time.Now().UnixMilli(),
		}
		if raw := argAt(args, 3); raw != "" {
			secs, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				fatalf("duration %q: %v", raw, err)
			}
			call.DurationSeconds = secs
		}
		if err := w.AddCall(ctx, call); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Added %s call with %s\n", call.Type, call.PhoneNumber)
	default:
		deviceUsage()
	}
}

func deviceUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmsyncctl device <add-contact NAME [PHONE] [EMAIL] | delete-contact NAME | add-call PHONE incoming|outgoing|missed [SECONDS]>")
	os.Exit(1)
}

func parseCallType(s string) store.CallType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(store.CallIncoming):
		return store.CallIncoming
	case string(store.CallOutgoing):
		return store.CallOutgoing
	case string(store.CallMissed):
		return store.CallMissed
	default:
		return store.CallOther
	}
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
