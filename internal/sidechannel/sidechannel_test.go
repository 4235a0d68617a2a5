package sidechannel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intercomswap/swapd/internal/domain"
)

const testNow int64 = 1_700_000_000

func keypair(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, hex.EncodeToString(pub)
}

func TestInviteAdmit(t *testing.T) {
	owner, _ := keypair(t)
	_, inviteePub := keypair(t)

	blob, err := NewInvite("swap:t1", inviteePub, owner, testNow+600)
	require.NoError(t, err)
	inv, err := ParseInvite(blob)
	require.NoError(t, err)

	require.NoError(t, Admit(inv, "swap:t1", inviteePub, testNow))

	// Wrong channel, wrong holder, expired, tampered: all refused.
	require.ErrorIs(t, Admit(inv, "swap:t2", inviteePub, testNow), domain.ErrNotAdmitted)
	_, otherPub := keypair(t)
	require.ErrorIs(t, Admit(inv, "swap:t1", otherPub, testNow), domain.ErrNotAdmitted)
	require.ErrorIs(t, Admit(inv, "swap:t1", inviteePub, testNow+601), domain.ErrNotAdmitted)

	tampered := inv
	tampered.ExpiresUnix += 1000
	require.ErrorIs(t, Admit(tampered, "swap:t1", inviteePub, testNow), domain.ErrNotAdmitted)
}

func TestWelcomeVerify(t *testing.T) {
	owner, _ := keypair(t)
	blob, err := NewWelcome("0000intercomswapbtcusdt", owner, testNow)
	require.NoError(t, err)
	w, err := ParseWelcome(blob)
	require.NoError(t, err)
	require.NoError(t, VerifyWelcome(w))

	w.Channel = "hijacked"
	require.Error(t, VerifyWelcome(w))
}

func TestSealRoundTripAndChannelBinding(t *testing.T) {
	secret := hex.EncodeToString(make([]byte, 32))
	sealed, err := seal(secret, "swap:t1", []byte("payload"))
	require.NoError(t, err)

	plain, err := open(secret, "swap:t1", sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), plain)

	// The key is bound to the channel name.
	_, err = open(secret, "swap:t2", sealed)
	require.Error(t, err)
}

// Scenario: an uninvited subscriber to a swap channel receives zero
// messages while the invited peers converse.
func TestGatedChannelConfidentiality(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewBroker()
	now := func() int64 { return testNow }

	ownerKey, ownerPub := keypair(t)
	_, guestPub := keypair(t)
	_, spyPub := keypair(t)

	ownerBus := NewMemoryBus(broker, ownerPub, now)
	guestBus := NewMemoryBus(broker, guestPub, now)
	spyBus := NewMemoryBus(broker, spyPub, now)

	const channel = "swap:t1"
	selfInvite, err := NewInvite(channel, ownerPub, ownerKey, testNow+600)
	require.NoError(t, err)
	parsed, err := ParseInvite(selfInvite)
	require.NoError(t, err)
	guestInvite, err := ReInvite(parsed, guestPub, ownerKey, testNow+600)
	require.NoError(t, err)

	require.NoError(t, ownerBus.Join(ctx, channel, domain.JoinOpts{Invite: selfInvite}))
	require.NoError(t, guestBus.Join(ctx, channel, domain.JoinOpts{Invite: guestInvite}))

	// The spy can subscribe to the raw topic, but cannot join.
	require.ErrorIs(t, spyBus.Join(ctx, channel, domain.JoinOpts{}), domain.ErrNotAdmitted)
	spyMsgs, err := spyBus.Subscribe(ctx, []string{channel})
	require.NoError(t, err)
	guestMsgs, err := guestBus.Subscribe(ctx, []string{channel})
	require.NoError(t, err)

	require.NoError(t, ownerBus.Send(ctx, channel, []byte("secret terms"), domain.SendOpts{}))

	select {
	case msg := <-guestMsgs:
		require.Equal(t, []byte("secret terms"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("invited peer received nothing")
	}

	select {
	case msg := <-spyMsgs:
		t.Fatalf("uninvited peer received %q", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUngatedSendRequiresNoInvite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewBroker()
	now := func() int64 { return testNow }
	_, alicePub := keypair(t)
	_, bobPub := keypair(t)
	alice := NewMemoryBus(broker, alicePub, now)
	bob := NewMemoryBus(broker, bobPub, now)

	msgs, err := bob.Subscribe(ctx, []string{"0000intercomswapbtcusdt"})
	require.NoError(t, err)
	require.NoError(t, alice.Send(ctx, "0000intercomswapbtcusdt", []byte("rfq"), domain.SendOpts{}))

	select {
	case msg := <-msgs:
		require.Equal(t, []byte("rfq"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("public message not delivered")
	}
}

func TestSendOnGatedChannelWithoutAdmissionFails(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker()
	_, pub := keypair(t)
	bus := NewMemoryBus(broker, pub, func() int64 { return testNow })
	err := bus.Send(ctx, "swap:t1", []byte("x"), domain.SendOpts{})
	require.ErrorIs(t, err, domain.ErrNotAdmitted)
}
