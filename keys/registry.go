// Package keys validates access keys and binds them to signed sessions.
package keys

import (
	"context"
	"strings"
	"time"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/metrics"
	"github.com/RoyXiang/streamgate/store"
	"github.com/sirupsen/logrus"
)

var (
	ErrKeyInvalid = common.NewError(common.KindAuth, "invalid access key", nil)
	ErrKeyExpired = common.NewError(common.KindAuth, "access key expired", nil)
	ErrKeyBanned  = common.NewError(common.KindAuthorization, "access key banned", nil)
)

// Registry reads key state from the store on every call so bans and
// expiries take effect immediately.
type Registry struct {
	keys store.KeyRepository
	now  func() time.Time
	log  *logrus.Entry
}

func NewRegistry(keys store.KeyRepository) *Registry {
	return &Registry{keys: keys, now: time.Now, log: common.Log("keys")}
}

// ValidateKey checks a key presented by a client and records its use.
func (r *Registry) ValidateKey(ctx context.Context, code string) (*store.AccessKey, error) {
	key, err := r.check(ctx, code)
	if err != nil {
		metrics.KeyValidations.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	metrics.KeyValidations.WithLabelValues("ok").Inc()

	now := r.now()
	if err := r.keys.TouchKey(ctx, key.Code, now); err != nil {
		r.log.WithError(err).Warn("last use of key not recorded")
	} else {
		key.LastUsedAt = &now
	}
	return key, nil
}

// Recheck repeats the checks of ValidateKey without recording use.
func (r *Registry) Recheck(ctx context.Context, code string) (*store.AccessKey, error) {
	return r.check(ctx, code)
}

func (r *Registry) check(ctx context.Context, code string) (*store.AccessKey, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrKeyInvalid
	}
	key, err := r.keys.GetKey(ctx, code)
	if err != nil {
		return nil, common.NewError(common.KindInternal, "key lookup failed", err)
	}
	switch {
	case key == nil:
		return nil, ErrKeyInvalid
	case key.Banned:
		return nil, ErrKeyBanned
	case !key.Active:
		return nil, ErrKeyInvalid
	case key.ExpiresAt != nil && !r.now().Before(*key.ExpiresAt):
		return nil, ErrKeyExpired
	}
	return key, nil
}

func resultLabel(err error) string {
	switch err {
	case ErrKeyInvalid:
		return "invalid"
	case ErrKeyExpired:
		return "expired"
	case ErrKeyBanned:
		return "banned"
	}
	return "error"
}
