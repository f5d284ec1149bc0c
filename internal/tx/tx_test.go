package tx

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavenet/weave-node/internal/ledger"
	"github.com/weavenet/weave-node/internal/wallet"
)

func newSignedTransfer(t *testing.T, w *wallet.Wallet, target [32]byte, amount, reward int64) *Transaction {
	t.Helper()
	txn := &Transaction{
		TargetAddr: target,
		TargetSet:  true,
		Amount:     big.NewInt(amount),
		RewardAmt:  big.NewInt(reward),
	}
	require.NoError(t, Sign(txn, w))
	return txn
}

func TestSignProducesVerifiableTransaction(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	txn := newSignedTransfer(t, w, [32]byte{9}, 100, 1)
	require.True(t, Verify(txn))
}

func TestVerifyFailsAfterTamper(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	txn := newSignedTransfer(t, w, [32]byte{9}, 100, 1)
	txn.Amount = big.NewInt(999)
	require.False(t, Verify(txn))
}

func TestSystemTransactionSkipsSignatureChecks(t *testing.T) {
	txn := &Transaction{TargetAddr: [32]byte{2}, TargetSet: true, Amount: big.NewInt(1), RewardAmt: big.NewInt(0)}
	require.True(t, txn.IsSystem())
	require.True(t, Verify(txn))
}

func TestMinCostGrowsWithDataSize(t *testing.T) {
	cpb := big.NewInt(1)
	small := MinCost(0, 50, 40, cpb)
	large := MinCost(1_000_000, 50, 40, cpb)
	require.Equal(t, 1, large.Cmp(small))
}

func TestMinCostUsesDiffCenterBelowThreshold(t *testing.T) {
	cpb := big.NewInt(1)
	below := MinCost(1000, 10, 40, cpb)
	atCenter := MinCost(1000, 40, 40, cpb)
	require.Equal(t, 0, below.Cmp(atCenter))
}

func TestValidateRejectsRewardBelowMin(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	wl := ledger.New()
	wl.Credit(wallet.Address(w.PublicKeyBytes()), big.NewInt(1_000_000))

	txn := newSignedTransfer(t, w, [32]byte{9}, 100, 0)
	err = Validate(txn, 30, 40, big.NewInt(1_000_000), wl)
	require.ErrorIs(t, err, ErrRewardBelowMin)
}

func TestValidateRejectsSelfTarget(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	self := wallet.Address(w.PublicKeyBytes())

	txn := newSignedTransfer(t, w, self, 100, 1)
	err = Validate(txn, 30, 40, big.NewInt(1), wl_(t))
	require.ErrorIs(t, err, ErrSelfTarget)
}

func TestValidateAcceptsWellFormedTransfer(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	sender := wallet.Address(w.PublicKeyBytes())

	wl := ledger.New()
	wl.Credit(sender, big.NewInt(10_000_000))

	txn := newSignedTransfer(t, w, [32]byte{9}, 100, 1_000_000)
	err = Validate(txn, 30, 40, big.NewInt(1), wl)
	require.NoError(t, err)
}

func TestValidateRejectsLastTxMismatch(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	sender := wallet.Address(w.PublicKeyBytes())

	wl := ledger.New()
	wl.Credit(sender, big.NewInt(10_000_000))
	require.NoError(t, wl.Debit(sender, big.NewInt(1), [32]byte{77}))

	txn := newSignedTransfer(t, w, [32]byte{9}, 100, 1_000_000)
	err = Validate(txn, 30, 40, big.NewInt(1), wl)
	require.ErrorIs(t, err, ErrLastTxMismatch)
}

func wl_(t *testing.T) *ledger.WalletList {
	t.Helper()
	return ledger.New()
}
