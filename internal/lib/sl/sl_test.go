package sl_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
)

func TestErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "error", err: errors.New("something went wrong"), want: "something went wrong"},
		{name: "nil", err: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := sl.Err(tt.err)
			assert.Equal(t, "error", attr.Key)
			assert.Equal(t, tt.want, attr.Value.String())
		})
	}
}

func TestOp(t *testing.T) {
	attr := sl.Op("ledger.Debit")
	assert.Equal(t, "op", attr.Key)
	assert.Equal(t, "ledger.Debit", attr.Value.String())
}
