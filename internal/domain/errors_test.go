package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKindSentinels(t *testing.T) {
	wrapped := fmt.Errorf("cart add: %w", SessionExpiredError("gateway.do", io.EOF))
	require.ErrorIs(t, wrapped, ErrSessionExpired)
	require.NotErrorIs(t, wrapped, ErrNetwork)
	require.ErrorIs(t, wrapped, io.EOF)

	netErr := NetworkError("cart.list", errors.New("dial tcp: refused"))
	require.ErrorIs(t, netErr, ErrNetwork)
	assert.Equal(t, KindNetwork, KindOf(fmt.Errorf("wrapped: %w", netErr)))
	assert.Equal(t, ErrorKind(""), KindOf(io.EOF))
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"network", NetworkError("op", io.ErrUnexpectedEOF), MessageNetwork},
		{"session", SessionExpiredError("op", nil), MessageSessionExpired},
		{"server verbatim", ServerError("op", 400, "Insufficient stock. Only 3 units left"), "Insufficient stock. Only 3 units left"},
		{"server fallback", ServerError("op", 500, ""), MessageServerFallback},
		{"untyped", errors.New("boom"), MessageServerFallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, UserMessage(tc.err))
		})
	}
}

func TestServerErrorStripsMarkup(t *testing.T) {
	err := ServerError("auth.login", 401, "<b>Invalid</b> credentials, don't retry")
	assert.Equal(t, "Invalid credentials, don't retry", err.Message)
	assert.Contains(t, err.Error(), "status 401")
}

func TestMoney(t *testing.T) {
	assert.Equal(t, Money(1999), MoneyFromDecimal(19.99))
	assert.Equal(t, Money(30), MoneyFromDecimal(0.1)+MoneyFromDecimal(0.2))
	assert.Equal(t, "19.99", Money(1999).String())
	assert.Equal(t, "-0.05", Money(-5).String())
	assert.InDelta(t, 19.99, Money(1999).Decimal(), 1e-9)
}

func TestClampQuantity(t *testing.T) {
	assert.Equal(t, 1, ClampQuantity(0, 5))
	assert.Equal(t, 1, ClampQuantity(-3, 5))
	assert.Equal(t, 5, ClampQuantity(9, 5))
	assert.Equal(t, 3, ClampQuantity(3, 5))
	assert.Equal(t, 0, ClampQuantity(3, 0))
}
