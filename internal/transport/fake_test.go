package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shuttle moves signals from one session into the other, the way a
// client moves them through the broker's relay.
func shuttle(t *testing.T, from, to Session) {
	t.Helper()
	go func() {
		for sig := range from.Signals() {
			_ = to.Inject(sig)
		}
	}()
}

func TestFakeHandshakeCompletesBothSides(t *testing.T) {
	ctx := context.Background()

	seed, err := Fake{}.Seed(ctx, "ignored")
	require.NoError(t, err)
	fetch, err := Fake{}.Fetch(ctx, ".")
	require.NoError(t, err)

	shuttle(t, seed, fetch)
	shuttle(t, fetch, seed)

	select {
	case err := <-seed.Done():
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("seeder did not complete")
	}
	select {
	case err := <-fetch.Done():
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fetcher did not complete")
	}
}

func TestFakeCancelResolvesDone(t *testing.T) {
	seed, err := Fake{}.Seed(context.Background(), "ignored")
	require.NoError(t, err)

	seed.Cancel()
	seed.Cancel() // idempotent

	select {
	case err := <-seed.Done():
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("cancel did not resolve the session")
	}
}
