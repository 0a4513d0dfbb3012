package subcmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aceeric/offliner/impl/config"
	"github.com/aceeric/offliner/impl/offliner"
	"github.com/aceeric/offliner/impl/setup"
)

// out is where the CLI commands print. Supports unit testing.
var out io.Writer = os.Stdout

// withOffliner opens the configured store and broadcaster, builds an Offliner over
// them, and runs the passed function. Everything is closed on return.
func withOffliner(fn func(ctx context.Context, o *offliner.Offliner) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := setup.OpenStore(ctx, config.GetStore())
	if err != nil {
		return fmt.Errorf("error opening the store: %s", err)
	}
	defer store.Close()
	bcast, err := setup.OpenBroadcaster(config.GetNotify())
	if err != nil {
		return fmt.Errorf("error connecting the notifier: %s", err)
	}
	if bcast != nil {
		defer bcast.Close()
	}
	o, err := setup.NewOffliner(ctx, store, bcast)
	if err != nil {
		return err
	}
	defer o.Close()
	return fn(ctx, o)
}

// Prefetch populates the bootstrap generation from the configured resources. It does
// nothing if the store was already bootstrapped.
func Prefetch() error {
	return withOffliner(func(ctx context.Context, o *offliner.Offliner) error {
		bootstrapped, err := o.Controller().Bootstrap(ctx)
		if err != nil {
			return err
		}
		if bootstrapped {
			fmt.Fprintf(out, "prefetched %d resources\n", len(o.PrefetchConfig().Resources()))
		} else {
			fmt.Fprintln(out, "already installed")
		}
		return nil
	})
}

// Update runs one update cycle and reports its outcome
func Update() error {
	return withOffliner(func(ctx context.Context, o *offliner.Offliner) error {
		cy := o.Controller().Update(false)
		if err := cy.Wait(ctx); err != nil {
			return fmt.Errorf("update failed: %s", err)
		}
		outcome, version, _ := cy.Result()
		fmt.Fprintf(out, "outcome: %s version: %s\n", outcome, version)
		return nil
	})
}

// Activate activates a pending generation, if any
func Activate() error {
	return withOffliner(func(ctx context.Context, o *offliner.Offliner) error {
		activated, err := o.Activate(ctx)
		if err != nil {
			return err
		}
		if activated {
			fmt.Fprintln(out, "activated")
		} else {
			fmt.Fprintln(out, "nothing to activate")
		}
		return nil
	})
}
