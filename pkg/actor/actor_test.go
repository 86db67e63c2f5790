package actor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medflow/pharmacy-ledger/pkg/actor"
)

func TestFromContext(t *testing.T) {
	assert.Nil(t, actor.FromContext(context.Background()))

	a := &actor.Actor{ID: "user-1", PharmacyID: "ph-1", RoleName: "pharmacist"}
	ctx := actor.WithActor(context.Background(), a)

	assert.Same(t, a, actor.FromContext(ctx))
	assert.Same(t, a, actor.OrSystem(ctx))
	assert.Equal(t, "user-1 (pharmacist)", a.String())
}

func TestOrSystem(t *testing.T) {
	a := actor.OrSystem(context.Background())

	assert.True(t, a.IsSystem())
	assert.Equal(t, "system", a.String())

	var nilActor *actor.Actor
	assert.True(t, nilActor.IsSystem())
}
