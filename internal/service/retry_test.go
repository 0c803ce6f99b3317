package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	permanent := errors.New("rejected")

	tests := []struct {
		name      string
		failures  []error
		timeout   time.Duration
		wantErr   error
		wantCalls int
	}{
		{name: "first try", wantCalls: 1},
		{name: "transient then ok", failures: []error{domain.ErrLedgerUnavailable, domain.ErrPeerUnavailable}, wantCalls: 3},
		{name: "permanent is not retried", failures: []error{permanent}, wantErr: permanent, wantCalls: 1},
		{name: "transient then permanent", failures: []error{domain.ErrLedgerUnavailable, permanent}, wantErr: permanent, wantCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			b := Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond}
			err := b.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestBackoff_StopsAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	calls := 0
	err := Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}.Do(ctx, func(context.Context) error {
		calls++
		return domain.ErrLedgerUnavailable
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Greater(t, calls, 1)
}
