package redis

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	assert.Equal(t, "yieldmkt:market:"+addr.Hex(), marketKey(addr))
	assert.Equal(t, "yieldmkt:lock:snapshot", lockKey("snapshot"))
	assert.Equal(t, "yieldmkt:ratelimit:api:1.2.3.4", rateLimitKey("api:1.2.3.4"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("market:*"))
	assert.True(t, hasPattern("forge:[ac]*"))
	assert.False(t, hasPattern("registry"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.True(t, strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE"))
}

func TestNewReportsUnreachableServer(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	assert.ErrorContains(t, err, "redis: ping 127.0.0.1:1")
}
