package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty context", func(t *testing.T) {
		assert.Empty(t, RequestID(ctx))
		assert.Empty(t, ClientIP(ctx))
		assert.Empty(t, UserAgent(ctx))
		assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
	})

	t.Run("values round trip", func(t *testing.T) {
		pinned := time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC)
		c := WithTime(WithRequestID(WithClientMetadata(ctx, "10.0.0.7", "curl/8.0"), "req-1"), pinned)

		assert.Equal(t, "req-1", RequestID(c))
		assert.Equal(t, "10.0.0.7", ClientIP(c))
		assert.Equal(t, "curl/8.0", UserAgent(c))
		assert.Equal(t, pinned, Now(c))
	})
}
