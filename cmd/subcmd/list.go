package subcmd

import (
	"context"
	"fmt"

	"github.com/aceeric/offliner/impl/config"
	"github.com/aceeric/offliner/impl/offliner"
)

// List lists the configuration keys and the generations with their entry counts to
// the console.
func List() error {
	return withOffliner(func(ctx context.Context, o *offliner.Offliner) error {
		st, err := o.Status(ctx)
		if err != nil {
			return fmt.Errorf("error listing the store: %s", err)
		}
		fmt.Fprintf(out, "active-cache: %s\ncurrent-version: %s\nnext-version: %s\nactivation-pending: %t\n",
			st.Keys.ActiveCache, st.Keys.CurrentVersion, st.Keys.NextVersion, st.Keys.ActivationPending)
		if config.GetListConfig().Header {
			fmt.Fprintln(out, "GENERATION ACTIVE ENTRIES")
		}
		for _, name := range st.Generations {
			cnt, err := o.Generations().Count(ctx, name)
			if err != nil {
				return fmt.Errorf("error counting generation %s: %s", name, err)
			}
			fmt.Fprintf(out, "%s %t %d\n", name, name == st.Keys.ActiveCache, cnt)
		}
		return nil
	})
}
