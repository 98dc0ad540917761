// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

func stateCommand() *cli.Command {
	var bus busFlags
	var output cli.JSONOutput
	return &cli.Command{
		Name:    "state",
		Summary: "Show the connected router's peers, channels and routes",
		Description: `Ask the broker or bridge this command connects to for a snapshot of
its routing state: connected peers, channel subscriptions with their
reference counts, pending response routes and, for a bridge, its link
to the broker.`,
		Usage: "ipcbus state [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("state", pflag.ContinueOnError)
			bus.register(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("state: unexpected arguments %v", args)
			}
			connection, err := bus.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer connection.close()

			state, err := connection.bus.QueryState(ctx)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(state); done {
				return err
			}
			renderState(os.Stdout, state, connection.bus.Peer().ID, defaultTheme)
			return nil
		},
	}
}

// renderState prints state as sections. self is marked in the peer
// list.
func renderState(w io.Writer, state *ipc.State, self string, colors theme) {
	fmt.Fprintf(w, "%s\n\n", lipgloss.NewStyle().Bold(true).Render(state.Component+" state"))

	peers := section{title: "Peers", columns: []string{"ID", "NAME", "TIER", "PID", "UID", "WORKER"}}
	for _, peer := range state.Peers {
		id := peer.ID
		if id == self {
			id += " (you)"
		}
		peers.add(id, peer.Name, string(peer.Process.Tier),
			formatID(peer.Process.PID), formatID(peer.Process.UID), formatID(peer.Process.Worker))
	}
	peers.render(w, colors)

	channels := section{title: "Channels", columns: []string{"CHANNEL", "CONNECTION", "PEER", "REFS"}}
	for _, channel := range state.Channels {
		for _, listener := range channel.Listeners {
			channels.add(channel.Channel, listener.Connection, listener.PeerID, strconv.Itoa(listener.RefCount))
		}
	}
	channels.render(w, colors)

	routes := section{title: "Pending responses", columns: []string{"REPLY CHANNEL", "CONNECTION", "PEER"}}
	for _, route := range state.Routes {
		routes.add(route.ReplyChannel, route.Connection, route.PeerID)
	}
	routes.render(w, colors)

	if state.Component != "bridge" {
		return
	}
	title := lipgloss.NewStyle().Bold(true).Foreground(colors.Header).Render("Upstream")
	if state.Upstream == nil || !state.Upstream.Connected {
		fmt.Fprintf(w, "%s\n  %s\n", title, lipgloss.NewStyle().Foreground(colors.Bad).Render("not connected"))
		return
	}
	listening := "(no channels)"
	if len(state.Upstream.Channels) > 0 {
		listening = strings.Join(state.Upstream.Channels, ", ")
	}
	fmt.Fprintf(w, "%s\n  %s\n  listening beyond this tier: %s\n", title,
		lipgloss.NewStyle().Foreground(colors.Good).Render("connected"), listening)
}

func formatID(id int) string {
	if id == ipc.Unavailable {
		return "-"
	}
	return strconv.Itoa(id)
}
