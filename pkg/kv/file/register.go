package file

import (
	"github.com/farmsight/farmsight-backend/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendFile, func(cfg kv.Config) (kv.Store, error) {
		return New(cfg.Dir)
	})
}
