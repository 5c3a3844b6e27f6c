package common

import (
	"sync"
)

// Claims tracks keys that have work in flight. Claiming never blocks: a caller
// that loses the race skips the work instead of waiting for the holder.
type Claims interface {
	TryClaim(key string) bool
	Release(key string)
	Held(key string) bool
}

type claims struct {
	inUse sync.Map
}

func (c *claims) TryClaim(key string) bool {
	_, loaded := c.inUse.LoadOrStore(key, struct{}{})
	return !loaded
}

func (c *claims) Release(key string) {
	c.inUse.Delete(key)
}

func (c *claims) Held(key string) bool {
	_, ok := c.inUse.Load(key)
	return ok
}

func NewClaims() Claims {
	return &claims{}
}
