package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewDefaultEngine(ctx)
	require.NoError(t, err)

	cases := []struct {
		name string
		in   Input
		want bool
	}{
		{"owner", Input{Principal: "alice", Owner: "alice", Action: "read"}, true},
		{"unowned", Input{Principal: "bob", Owner: ""}, true},
		{"anonymous on unowned", Input{}, true},
		{"stranger", Input{Principal: "bob", Owner: "alice"}, false},
		{"anonymous on owned", Input{Owner: "alice"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Allow(ctx, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, `
package ownership

default allow = false

allow {
	input.principal == "admin"
}
`)
	require.NoError(t, err)

	ok, err := e.Allow(ctx, Input{Principal: "admin", Owner: "alice"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Allow(ctx, Input{Principal: "alice", Owner: "alice"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewEngine_BadPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package ownership\nallow {")
	assert.Error(t, err)
}

func TestAllow_NonBoolResult(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, "package ownership\n\nallow = \"yes\"\n")
	require.NoError(t, err)
	_, err = e.Allow(ctx, Input{})
	assert.Error(t, err)
}
