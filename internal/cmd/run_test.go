package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/quantmind-br/pahkat/internal/core"
	"github.com/quantmind-br/pahkat/internal/hub"
	"github.com/quantmind-br/pahkat/internal/transaction"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, core.ExitSuccess},
		{"explicit", &ExitError{Code: core.ExitDatabase, Err: errors.New("db")}, core.ExitDatabase},
		{"helper", fmt.Errorf("install: %w", transaction.ErrHelperUnavailable), core.ExitHelperUnavailable},
		{"cancelled", hub.ErrCancelled, core.ExitInterrupted},
		{"context", context.Canceled, core.ExitInterrupted},
		{"permission", fmt.Errorf("open: %w", os.ErrPermission), core.ExitPermission},
		{"transaction", &hub.TransactionError{ID: 1, Message: "boom"}, core.ExitTransactionFailed},
		{"other", errors.New("other"), core.ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestTransactionOutcome(t *testing.T) {
	assert.NoError(t, transactionOutcome(nil))
	assert.Equal(t, core.ExitInterrupted, ExitCode(transactionOutcome(hub.ErrCancelled)))
	assert.Equal(t, core.ExitTransactionFailed, ExitCode(transactionOutcome(hub.ErrIdleTimeout)))
	assert.Equal(t, core.ExitTransactionFailed, ExitCode(transactionOutcome(&hub.TransactionError{Message: "x"})))
	assert.ErrorIs(t, transactionOutcome(hub.ErrClosed), hub.ErrClosed)
}
