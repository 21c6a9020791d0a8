package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx, id := EnsureRequestID(ctx)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, RequestIDFromContext(ctx))

	same, again := EnsureRequestID(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, id, RequestIDFromContext(same))

	assert.Equal(t, "abc", RequestIDFromContext(WithRequestID(context.Background(), " abc ")))
}

func TestActor(t *testing.T) {
	assert.Empty(t, ActorFromContext(context.Background()))
	assert.Equal(t, "user-1", ActorFromContext(WithActor(context.Background(), "user-1")))
}
