package replica

import (
	"context"
	"errors"
	"testing"

	"github.com/piratar/members-sync/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentLookup(t *testing.T) {
	doc := Document{
		"kennitala": "0101302989",
		"profile": map[string]any{
			"name": "Alice",
			"address": map[string]any{
				"city": "Reykjavík",
			},
		},
	}

	v, ok := doc.Lookup("profile.address.city")
	require.True(t, ok)
	assert.Equal(t, "Reykjavík", v)

	v, ok = doc.Lookup("kennitala")
	require.True(t, ok)
	assert.Equal(t, "0101302989", v)

	_, ok = doc.Lookup("profile.email")
	assert.False(t, ok)
	_, ok = doc.Lookup("kennitala.nested")
	assert.False(t, ok)
}

type nopStore struct{ Store }

func TestOpenSelectsDriver(t *testing.T) {
	called := ""
	openers := map[string]Opener{
		config.ReplicaDriverBolt: func(context.Context, config.ReplicaConfig) (Store, error) {
			called = "bolt"
			return nopStore{}, nil
		},
		config.ReplicaDriverSurreal: func(context.Context, config.ReplicaConfig) (Store, error) {
			return nil, errors.New("unreachable")
		},
	}

	_, err := Open(context.Background(), config.ReplicaConfig{Driver: " BOLT "}, openers)
	require.NoError(t, err)
	assert.Equal(t, "bolt", called)

	_, err = Open(context.Background(), config.ReplicaConfig{Driver: "surreal"}, openers)
	require.ErrorContains(t, err, "opening surreal replica")

	_, err = Open(context.Background(), config.ReplicaConfig{Driver: "mongo"}, openers)
	require.ErrorContains(t, err, "unsupported replica driver")
}
