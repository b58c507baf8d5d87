package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/convsync/server/reconciler"
	"github.com/hrygo/convsync/store"
)

const demoWait = 2 * time.Second

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Walk through create, push, conversion and model change against an in-process backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			prof, err := loadProfile(v)
			if err != nil {
				return err
			}

			b, err := openBackend(ctx, prof)
			if err != nil {
				return err
			}
			defer b.Close()

			r, err := newReconciler(b.gateway, prof, nil)
			if err != nil {
				return err
			}
			defer r.Close()

			runCtx, cancel := context.WithCancel(ctx)
			runDone := make(chan error, 1)
			go func() { runDone <- r.Run(runCtx) }()
			defer func() {
				cancel()
				<-runDone
			}()

			if err := waitFor(ctx, "subscription", func() bool { return b.gateway.Hub().Subscribers() > 0 }); err != nil {
				return err
			}
			return runDemo(ctx, cmd.OutOrStdout(), b, r)
		},
	}
}

func runDemo(ctx context.Context, out io.Writer, b *backend, r *reconciler.Reconciler) error {
	alice, err := r.CreateConversation(ctx, reconciler.CreateRequest{
		Name:           "Alice",
		Kind:           store.KindDirect,
		ParticipantIDs: []string{"me", "alice"},
	})
	if err != nil {
		return err
	}
	assistant, err := r.CreateConversation(ctx, reconciler.CreateRequest{
		Name:           "Assistant",
		Kind:           store.KindDirect,
		ParticipantIDs: []string{"me", "ai:assistant"},
		ExpectResponse: true,
	})
	if err != nil {
		return err
	}
	printStep(out, "created", r)

	if err := b.gateway.PostMessages(ctx, alice.ID, store.Message{
		SenderID: "alice",
		Content:  "**Hi!** Are we still on for `lunch`?",
	}); err != nil {
		return err
	}
	if err := b.gateway.PostMessages(ctx, assistant.ID, store.Message{
		SenderID: "ai:assistant",
		IsAI:     true,
		Content:  "# Welcome\n\nAsk me _anything_.",
	}); err != nil {
		return err
	}
	if err := waitFor(ctx, "messages", func() bool {
		rec, _ := r.Store().Get(alice.ID)
		return rec.LastMessagePreview != "" && !r.Store().IsProcessing(assistant.ID)
	}); err != nil {
		return err
	}
	printStep(out, "messages pushed", r)

	groupID, err := r.AddParticipants(ctx, alice.ID, []string{"bob"})
	if err != nil {
		return err
	}
	if err := waitFor(ctx, "conversion", func() bool { return r.Active() == groupID }); err != nil {
		return err
	}
	printStep(out, "bob added, direct conversation converted", r)

	if _, err := b.gateway.SetDefaultModel(ctx, "demo-model"); err != nil {
		return err
	}
	if err := waitFor(ctx, "model change", func() bool {
		rec, _ := r.Store().Get(assistant.ID)
		return rec.ModelLabel == "demo-model"
	}); err != nil {
		return err
	}
	printStep(out, "default model changed", r)
	return nil
}

func printStep(out io.Writer, title string, r *reconciler.Reconciler) {
	fmt.Fprintf(out, "== %s (active: %s)\n", title, orDash(r.Active()))
	if err := writeTable(out, r.Project("")); err != nil {
		fmt.Fprintln(out, "failed to render:", err)
	}
	fmt.Fprintln(out)
}

// waitFor polls cond until it holds or demoWait elapses.
func waitFor(ctx context.Context, what string, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, demoWait)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return errors.Errorf("timed out waiting for %s", what)
		case <-ticker.C:
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
