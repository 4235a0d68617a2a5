package escrow

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

const testNow int64 = 1_700_000_000

type progFixture struct {
	program *Program
	ledger  *Ledger
	clock   int64

	mint    string
	service string
	client  string
	svcATA  string
	cliATA  string

	preimage [32]byte
	payHash  [32]byte
}

func newProgFixture(t *testing.T) *progFixture {
	t.Helper()
	f := &progFixture{clock: testNow}
	f.ledger = NewLedger()
	f.mint = randAddr(t)
	f.service = randAddr(t)
	f.client = randAddr(t)
	f.svcATA = "ata-" + f.service[:6]
	f.cliATA = "ata-" + f.client[:6]

	program, err := NewProgram(ProgramConfig{
		ProgramID: randAddr(t),
		Clock:     func() int64 { return f.clock },
	}, f.ledger)
	require.NoError(t, err)
	f.program = program

	require.NoError(t, f.ledger.CreateAccount(f.svcATA, f.mint, f.service))
	require.NoError(t, f.ledger.CreateAccount(f.cliATA, f.mint, f.client))
	require.NoError(t, f.ledger.Mint(f.svcATA, 500_000_000))

	_, err = rand.Read(f.preimage[:])
	require.NoError(t, err)
	f.payHash = sha256.Sum256(f.preimage[:])
	return f
}

func randAddr(t *testing.T) string {
	t.Helper()
	var raw [32]byte
	_, err := rand.Read(raw[:])
	require.NoError(t, err)
	return EncodeKey(raw)
}

func (f *progFixture) create(t *testing.T, amount uint64) (pda, vault string) {
	t.Helper()
	recipient, err := DecodeKey(f.client)
	require.NoError(t, err)
	refund, err := DecodeKey(f.service)
	require.NoError(t, err)
	pda, vault, err = f.program.Create(f.service, f.svcATA, f.mint, InitArgs{
		PaymentHash: f.payHash,
		Recipient:   recipient,
		Refund:      refund,
		RefundAfter: testNow + 3600,
		Amount:      amount,
	})
	require.NoError(t, err)
	return pda, vault
}

func TestCreateFundsVaultAndState(t *testing.T) {
	f := newProgFixture(t)
	pda, vault := f.create(t, 100_000_000)

	balance, err := f.ledger.Balance(vault)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), balance)

	st, ok := f.program.StateOf(pda)
	require.True(t, ok)
	require.Equal(t, StatusActive, st.Status)
	require.Equal(t, uint64(100_000_000), st.NetAmount)
	require.Equal(t, f.payHash, st.PaymentHash)

	// The state round-trips through the on-chain layout.
	parsed, err := ParseState(st.Serialize())
	require.NoError(t, err)
	require.Equal(t, st, *parsed)
}

func TestCreateRejectsReinit(t *testing.T) {
	f := newProgFixture(t)
	f.create(t, 100_000_000)

	recipient, _ := DecodeKey(f.client)
	refund, _ := DecodeKey(f.service)
	_, _, err := f.program.Create(f.service, f.svcATA, f.mint, InitArgs{
		PaymentHash: f.payHash,
		Recipient:   recipient,
		Refund:      refund,
		RefundAfter: testNow + 3600,
		Amount:      1,
	})
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestClaimWithPreimage(t *testing.T) {
	f := newProgFixture(t)
	pda, vault := f.create(t, 100_000_000)

	require.NoError(t, f.program.Claim(f.client, pda, f.preimage, f.cliATA))

	cliBalance, err := f.ledger.Balance(f.cliATA)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), cliBalance)

	vaultBalance, err := f.ledger.Balance(vault)
	require.NoError(t, err)
	require.Zero(t, vaultBalance)

	st, _ := f.program.StateOf(pda)
	require.Equal(t, StatusClaimed, st.Status)
	require.Zero(t, st.NetAmount)

	// Double-claim fails.
	require.ErrorIs(t, f.program.Claim(f.client, pda, f.preimage, f.cliATA), ErrNotActive)
}

// Scenario: a claim with the wrong preimage is rejected and the vault is
// untouched.
func TestClaimWrongPreimageRejected(t *testing.T) {
	f := newProgFixture(t)
	pda, vault := f.create(t, 100_000_000)

	var wrong [32]byte
	wrong[0] = ^f.preimage[0]
	err := f.program.Claim(f.client, pda, wrong, f.cliATA)
	require.ErrorIs(t, err, ErrInvalidPreimage)

	balance, err := f.ledger.Balance(vault)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), balance)
	st, _ := f.program.StateOf(pda)
	require.Equal(t, StatusActive, st.Status)
}

func TestClaimRequiresRecipientSigner(t *testing.T) {
	f := newProgFixture(t)
	pda, _ := f.create(t, 100_000_000)
	err := f.program.Claim(f.service, pda, f.preimage, f.svcATA)
	require.ErrorIs(t, err, ErrInvalidSigner)
}

func TestRefundBeforeDeadlineRejected(t *testing.T) {
	f := newProgFixture(t)
	pda, _ := f.create(t, 100_000_000)
	err := f.program.Refund(f.service, pda, f.svcATA)
	require.ErrorIs(t, err, ErrTooEarly)
}

// Scenario: the client never pays; after the deadline the service
// refunds and its balance is restored.
func TestRefundAfterDeadline(t *testing.T) {
	f := newProgFixture(t)
	pda, vault := f.create(t, 100_000_000)

	before, err := f.ledger.Balance(f.svcATA)
	require.NoError(t, err)

	f.clock = testNow + 3601
	require.NoError(t, f.program.Refund(f.service, pda, f.svcATA))

	after, err := f.ledger.Balance(f.svcATA)
	require.NoError(t, err)
	require.Equal(t, before+100_000_000, after)

	vaultBalance, err := f.ledger.Balance(vault)
	require.NoError(t, err)
	require.Zero(t, vaultBalance)

	st, _ := f.program.StateOf(pda)
	require.Equal(t, StatusRefunded, st.Status)
}

func TestRefundRequiresRefundAuthority(t *testing.T) {
	f := newProgFixture(t)
	pda, _ := f.create(t, 100_000_000)
	f.clock = testNow + 3601
	err := f.program.Refund(f.client, pda, f.cliATA)
	require.ErrorIs(t, err, ErrInvalidSigner)
}

func TestFeesSplitOnClaim(t *testing.T) {
	f := newProgFixture(t)
	collector := randAddr(t)
	collectorKey, err := DecodeKey(collector)
	require.NoError(t, err)

	program, err := NewProgram(ProgramConfig{
		ProgramID:            randAddr(t),
		Clock:                func() int64 { return f.clock },
		PlatformFeeBps:       100, // 1%
		PlatformFeeCollector: collector,
	}, f.ledger)
	require.NoError(t, err)

	recipient, _ := DecodeKey(f.client)
	refund, _ := DecodeKey(f.service)
	pda, vault, err := program.Create(f.service, f.svcATA, f.mint, InitArgs{
		PaymentHash:            f.payHash,
		Recipient:              recipient,
		Refund:                 refund,
		RefundAfter:            testNow + 3600,
		Amount:                 100_000_000,
		ExpectedPlatformFeeBps: 100,
		TradeFeeCollector:      collectorKey,
	})
	require.NoError(t, err)

	// Vault holds net + fee.
	vaultBalance, err := f.ledger.Balance(vault)
	require.NoError(t, err)
	require.Equal(t, uint64(101_000_000), vaultBalance)

	require.NoError(t, program.Claim(f.client, pda, f.preimage, f.cliATA))
	cliBalance, err := f.ledger.Balance(f.cliATA)
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), cliBalance)
}

func TestCreateFeeExpectationMismatch(t *testing.T) {
	f := newProgFixture(t)
	program, err := NewProgram(ProgramConfig{
		ProgramID:            randAddr(t),
		Clock:                func() int64 { return f.clock },
		PlatformFeeBps:       100,
		PlatformFeeCollector: randAddr(t),
	}, f.ledger)
	require.NoError(t, err)

	recipient, _ := DecodeKey(f.client)
	refund, _ := DecodeKey(f.service)
	_, _, err = program.Create(f.service, f.svcATA, f.mint, InitArgs{
		PaymentHash:            f.payHash,
		Recipient:              recipient,
		Refund:                 refund,
		RefundAfter:            testNow + 3600,
		Amount:                 100_000_000,
		ExpectedPlatformFeeBps: 0, // payer expected no fee
	})
	require.ErrorIs(t, err, ErrFeeMismatch)
}
