package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/liveness"
	"github.com/cppla/livewell/syncclient"
)

func clientPolicy() liveness.Policy {
	return liveness.PolicyFromConfig(config.Load())
}

func loadRegistered(path string) (liveness.State, error) {
	s, ok, err := LoadState(path)
	if err != nil {
		return liveness.State{}, WrapExitError(ExitCommandError, "failed to read state", err)
	}
	if !ok || !s.IsRegistered {
		return liveness.State{}, NewExitError(ExitCommandError, fmt.Sprintf("no registered subject in %s, run `livewell register` first", path))
	}
	return s, nil
}

// pushNow delivers s synchronously. The local state file is already saved, so a
// failure only means the server is behind until the next push.
func pushNow(ctx context.Context, opts *RootOptions, s liveness.State) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := syncclient.NewClient(opts.Server, nil).Push(ctx, s); err != nil {
		return WrapExitError(ExitFailure, "sync failed (state saved locally)", err)
	}
	return nil
}

type statusView struct {
	UserID string `json:"userId"`
	liveness.Status
}

func printStatus(out io.Writer, format string, s liveness.State, st liveness.Status) {
	if format == "json" {
		data, _ := json.Marshal(statusView{UserID: s.UserID, Status: st})
		fmt.Fprintln(out, string(data))
		return
	}
	live := "no"
	if st.IsLive {
		live = "yes"
	}
	last := "never"
	if st.LastCheckIn != nil {
		last = time.UnixMilli(*st.LastCheckIn).Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(out, "subject:          %s\n", s.UserID)
	fmt.Fprintf(out, "checked in:       %s (last %s)\n", live, last)
	fmt.Fprintf(out, "streak:           %d\n", st.Streak)
	fmt.Fprintf(out, "alert in:         %s\n", (time.Duration(st.SecondsToAlert) * time.Second).String())
}
