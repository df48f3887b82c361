package jobs

import (
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stayledger/internal/platform/cache"
)

// RedisOpts converts REDIS_ADDR into asynq connection options, accepting the
// same host:port and redis:// forms as the cache client.
func RedisOpts(addr string) (asynq.RedisClientOpt, error) {
	opts, err := cache.Options(addr)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}
