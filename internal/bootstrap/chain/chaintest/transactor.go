package chaintest

import (
	"log/slog"
	"time"

	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewTransactor wires a transactor to l, signing with TestKey and polling every millisecond
// without a settle delay.
func NewTransactor(l *Ledger) *chain.Transactor {
	signer, err := chain.NewKeySigner(TestKey, l.ChainIDValue)
	if err != nil {
		panic(err)
	}
	waiter := chain.NewWaiter(l, chain.WaiterConfig{
		PollInterval: time.Millisecond,
		SettleDelay:  -1,
		Timeout:      5 * time.Second,
		Logger:       Logger(),
	})
	return chain.NewTransactor(l, signer, waiter, chain.TransactorConfig{
		Fees:   chain.DefaultFeePolicy(),
		Logger: Logger(),
	})
}
